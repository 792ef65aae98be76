package cdpsession

import (
	"sort"
	"strings"
)

// LocatorType names a way to re-identify a DOM element in a later session.
type LocatorType string

const (
	LocatorCSS   LocatorType = "css"
	LocatorXPath LocatorType = "xpath"
	LocatorText  LocatorType = "text"
	LocatorRole  LocatorType = "role"
	LocatorName  LocatorType = "name"
	LocatorID    LocatorType = "id"
)

// DefaultLocatorPriorities ranks locator types by how stable they tend to
// be across page reloads: lower numbers are tried first. Hosts may
// override via Options.LocatorPriorities.
var DefaultLocatorPriorities = map[LocatorType]int{
	LocatorID:    10,
	LocatorName:  20,
	LocatorCSS:   30,
	LocatorRole:  40,
	LocatorText:  50,
	LocatorXPath: 80,
}

// Locator is a single, prioritized way to find an element again.
type Locator struct {
	Type     LocatorType `json:"type"`
	Value    string      `json:"value"`
	Priority int         `json:"priority"`
}

// BoundingBox is an element's viewport-relative rectangle.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// UiElement is the full descriptor of an interaction target, materialized
// by the injected interaction script and decoded on the core side.
type UiElement struct {
	Tag         string            `json:"tag"`
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name,omitempty"`
	Classes     []string          `json:"classes,omitempty"`
	Type        string            `json:"type,omitempty"`
	Role        string            `json:"role,omitempty"`
	AriaLabel   string            `json:"ariaLabel,omitempty"`
	Placeholder string            `json:"placeholder,omitempty"`
	Href        string            `json:"href,omitempty"`
	Src         string            `json:"src,omitempty"`
	Value       string            `json:"value,omitempty"`
	Title       string            `json:"title,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Text        string            `json:"text,omitempty"`
	Box         *BoundingBox      `json:"box,omitempty"`
	// XPath is an absolute tag[nth-of-type] path from <html>, computed by
	// the injected interaction script (which has the live DOM ancestor
	// chain; the core process never sees the page itself). It backs the
	// LocatorXPath fallback, the least stable of the locator types.
	XPath    string    `json:"xpath,omitempty"`
	Locators []Locator `json:"locators,omitempty"`
}

// isGeneratedClass rejects class names CSS-in-JS tooling invents per build,
// like "sc-bdVaJa" or "css-1x2y3z" or long opaque alphanumeric hashes, none
// of which survive a rebuild and so make poor locators.
func isGeneratedClass(c string) bool {
	if strings.HasPrefix(c, "sc-") || strings.HasPrefix(c, "css-") {
		return true
	}
	if len(c) >= 10 && isAlnum(c) {
		return true
	}
	return false
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// BuildLocators populates el.Locators in priority order from whichever
// identifying fields are present: id, name, placeholder-based CSS, role,
// trimmed text, then a fallback on the first stable-looking class.
// priorities overrides DefaultLocatorPriorities per-type; a nil map uses
// the defaults.
func (el *UiElement) BuildLocators(priorities map[LocatorType]int) {
	if len(el.Locators) > 0 {
		return
	}
	prio := func(t LocatorType) int {
		if priorities != nil {
			if p, ok := priorities[t]; ok {
				return p
			}
		}
		return DefaultLocatorPriorities[t]
	}

	var locators []Locator
	if el.ID != "" {
		locators = append(locators, Locator{Type: LocatorID, Value: el.ID, Priority: prio(LocatorID)})
	}
	if el.Name != "" {
		locators = append(locators, Locator{Type: LocatorName, Value: el.Name, Priority: prio(LocatorName)})
	}
	if el.Placeholder != "" {
		tag := strings.ToLower(el.Tag)
		css := tag + `[placeholder="` + el.Placeholder + `"]`
		locators = append(locators, Locator{Type: LocatorCSS, Value: css, Priority: prio(LocatorCSS)})
	}
	if el.Role != "" {
		locators = append(locators, Locator{Type: LocatorRole, Value: el.Role, Priority: prio(LocatorRole)})
	}
	if text := strings.TrimSpace(el.Text); text != "" {
		locators = append(locators, Locator{Type: LocatorText, Value: text, Priority: prio(LocatorText)})
	}

	if len(locators) == 0 {
		for _, c := range el.Classes {
			if !isGeneratedClass(c) {
				locators = append(locators, Locator{Type: LocatorCSS, Value: "." + c, Priority: prio(LocatorCSS)})
				break
			}
		}
	}

	// xpath rides along whenever the script computed one, regardless of what
	// else matched: its priority keeps it sorted last, so it only gets tried
	// once every more stable locator above it has failed.
	if el.XPath != "" {
		locators = append(locators, Locator{Type: LocatorXPath, Value: el.XPath, Priority: prio(LocatorXPath)})
	}

	sort.SliceStable(locators, func(i, j int) bool { return locators[i].Priority < locators[j].Priority })
	el.Locators = locators
}
