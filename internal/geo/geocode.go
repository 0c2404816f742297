// README: Opaque geocode result attached to task addresses, plus city extraction.
package geo

// Result is the structured geocoding outcome paired with a raw address
// field. The core never inspects it beyond presence and city extraction.
type Result struct {
	Results []Entry `json:"results"`
}

type Entry struct {
	FormattedAddress  string      `json:"formatted_address"`
	AddressComponents []Component `json:"address_components"`
}

type Component struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

// Resolved reports whether the result carries at least one geocoded entry.
func (r *Result) Resolved() bool {
	return r != nil && len(r.Results) > 0
}

// City returns the locality component of the first entry, falling back to
// the raw address text when the result is absent or has no locality.
func City(r *Result, fallback string) string {
	if !r.Resolved() {
		return fallback
	}
	for _, c := range r.Results[0].AddressComponents {
		for _, t := range c.Types {
			if t == "locality" {
				return c.LongName
			}
		}
	}
	return fallback
}
