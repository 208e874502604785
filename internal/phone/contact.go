package phone

import "strings"

// Contact is an address book entry used as a dialing source.
type Contact struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Number string `json:"number"`
}

// ValidateContact checks name and number before a contact is stored.
func ValidateContact(name, number string) error {
	verr := &ValidationError{}
	if strings.TrimSpace(name) == "" {
		verr.add("name", "name is required")
	}
	if strings.TrimSpace(number) == "" {
		verr.add("number", "number is required")
	} else if err := ValidateDestination(number); err != nil {
		verr.add("number", "number contains invalid characters")
	}
	return verr.orNil()
}
