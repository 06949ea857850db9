package license

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Encryption profiles defined by the LCP specification
const (
	ProfileBasic = "http://readium.org/lcp/basic-profile"
	Profile10    = "http://readium.org/lcp/profile-1.0"
)

// Media types used for link resolution
const (
	ContentTypeLcpLicense = "application/vnd.readium.lcp.license.v1.0+json"
	ContentTypeLcpStatus  = "application/vnd.readium.license.status.v1.0+json"
)

// Link relations the engine resolves
const (
	RelStatus   = "status"
	RelLicense  = "license"
	RelRegister = "register"
	RelHint     = "hint"
	RelReturn   = "return"
	RelRenew    = "renew"
)

// Link is a hypermedia link carried by a license or status document
type Link struct {
	Href      string   `json:"href"`
	Rel       []string `json:"-"`
	Type      string   `json:"type,omitempty"`
	Title     string   `json:"title,omitempty"`
	Templated bool     `json:"templated,omitempty"`
	Profile   string   `json:"profile,omitempty"`
}

// linkJSON mirrors Link on the wire, where rel may be a string or an array
type linkJSON struct {
	Href      string          `json:"href"`
	Rel       json.RawMessage `json:"rel"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Templated bool            `json:"templated"`
	Profile   string          `json:"profile"`
}

// UnmarshalJSON accepts rel as either a single string or an array of strings
func (l *Link) UnmarshalJSON(data []byte) error {
	var raw linkJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	l.Href = raw.Href
	l.Type = raw.Type
	l.Title = raw.Title
	l.Templated = raw.Templated
	l.Profile = raw.Profile

	if len(raw.Rel) > 0 {
		var single string
		if err := json.Unmarshal(raw.Rel, &single); err == nil {
			l.Rel = []string{single}
		} else {
			var many []string
			if err := json.Unmarshal(raw.Rel, &many); err != nil {
				return fmt.Errorf("link rel must be a string or an array of strings")
			}
			l.Rel = many
		}
	}

	return nil
}

// HasRel reports whether the link carries the given relation
func (l Link) HasRel(rel string) bool {
	for _, r := range l.Rel {
		if r == rel {
			return true
		}
	}
	return false
}

// ExpandedHref resolves a URI template against the given parameters. Unmatched
// template expressions are dropped.
func (l Link) ExpandedHref(params map[string]string) string {
	if !l.Templated {
		return l.Href
	}
	return expandTemplate(l.Href, params)
}

// expandTemplate implements the subset of RFC 6570 the LCP documents use:
// simple expansion {name} and form-style query expansion {?a,b}.
func expandTemplate(href string, params map[string]string) string {
	var sb strings.Builder
	for {
		open := strings.IndexByte(href, '{')
		if open < 0 {
			sb.WriteString(href)
			break
		}
		end := strings.IndexByte(href[open:], '}')
		if end < 0 {
			sb.WriteString(href)
			break
		}
		end += open

		sb.WriteString(href[:open])
		expr := href[open+1 : end]

		if strings.HasPrefix(expr, "?") {
			var pairs []string
			for _, name := range strings.Split(expr[1:], ",") {
				if v, ok := params[name]; ok {
					pairs = append(pairs, name+"="+v)
				}
			}
			if len(pairs) > 0 {
				sb.WriteString("?")
				sb.WriteString(strings.Join(pairs, "&"))
			}
		} else if v, ok := params[expr]; ok {
			sb.WriteString(v)
		}

		href = href[end+1:]
	}
	return sb.String()
}

// linkList resolves links by relation, preferring an exact media type match
type linkList []Link

// resolve returns the first link with the given rel and preferred type, falling
// back to the first link with the rel regardless of type.
func (ll linkList) resolve(rel, preferredType string) (Link, bool) {
	var fallback *Link
	for i, l := range ll {
		if !l.HasRel(rel) {
			continue
		}
		if preferredType == "" || l.Type == preferredType {
			return l, true
		}
		if fallback == nil {
			fallback = &ll[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Link{}, false
}

// ContentKey describes the encrypted content key
type ContentKey struct {
	Algorithm      string `json:"algorithm"`
	EncryptedValue string `json:"encrypted_value"`
}

// UserKey describes how the user passphrase unlocks the license
type UserKey struct {
	Algorithm string `json:"algorithm"`
	TextHint  string `json:"text_hint"`
	KeyCheck  string `json:"key_check"`
}

// Encryption groups the cryptographic parameters of a license
type Encryption struct {
	Profile    string     `json:"profile"`
	ContentKey ContentKey `json:"content_key"`
	UserKey    UserKey    `json:"user_key"`
}

// Rights describes what the license permits and when
type Rights struct {
	Print *int       `json:"print,omitempty"`
	Copy  *int       `json:"copy,omitempty"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// User carries the optional user block of a license
type User struct {
	ID        string   `json:"id,omitempty"`
	Email     string   `json:"email,omitempty"`
	Name      string   `json:"name,omitempty"`
	Encrypted []string `json:"encrypted,omitempty"`
}

// Signature carries the provider certificate and license signature
type Signature struct {
	Algorithm   string `json:"algorithm"`
	Certificate string `json:"certificate"`
	Value       string `json:"value"`
}

// LicenseDocument is a parsed LCP License Document. It is immutable after
// parsing; the raw bytes are retained for signature and key-check work in the
// native layer.
type LicenseDocument struct {
	ID         string     `json:"id"`
	Issued     time.Time  `json:"issued"`
	Updated    *time.Time `json:"updated,omitempty"`
	Provider   string     `json:"provider"`
	Encryption Encryption `json:"encryption"`
	Links      []Link     `json:"links"`
	Rights     Rights     `json:"rights"`
	User       User       `json:"user"`
	Signature  Signature  `json:"signature"`

	raw []byte
}

// ParseLicense parses and minimally validates a License Document
func ParseLicense(data []byte) (*LicenseDocument, error) {
	var doc LicenseDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed license document: %w", err)
	}

	if doc.ID == "" {
		return nil, fmt.Errorf("license document has no id")
	}
	if doc.Provider == "" {
		return nil, fmt.Errorf("license document has no provider")
	}
	if doc.Issued.IsZero() {
		return nil, fmt.Errorf("license document has no issued date")
	}
	if doc.Encryption.Profile == "" {
		return nil, fmt.Errorf("license document has no encryption profile")
	}

	doc.raw = append([]byte(nil), data...)
	return &doc, nil
}

// RawJSON returns the original license bytes
func (d *LicenseDocument) RawJSON() []byte {
	return d.raw
}

// Link resolves a link by relation with an optional preferred media type
func (d *LicenseDocument) Link(rel, preferredType string) (Link, bool) {
	return linkList(d.Links).resolve(rel, preferredType)
}

// URL resolves and expands a link into a fetchable URL
func (d *LicenseDocument) URL(rel, preferredType string, params map[string]string) (string, bool) {
	link, ok := d.Link(rel, preferredType)
	if !ok {
		return "", false
	}
	return link.ExpandedHref(params), true
}

// UpdatedAt returns the last modification date, falling back to the issue date
func (d *LicenseDocument) UpdatedAt() time.Time {
	if d.Updated != nil {
		return *d.Updated
	}
	return d.Issued
}
