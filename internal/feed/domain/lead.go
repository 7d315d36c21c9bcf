// Package domain holds the lead feed types shared by the validator, parsers
// and ingestion service.
package domain

// Customer is the normalized contact block of a lead.
type Customer struct {
	Name      string `json:"name"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// HasContactChannel reports whether at least one way to reach the customer is known.
func (c Customer) HasContactChannel() bool {
	return c.Email != "" || c.Phone != ""
}

// VehicleInterest is the optional vehicle the customer asked about.
type VehicleInterest struct {
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
	Year  int    `json:"year,omitempty"`
}

// IsZero reports whether no vehicle field is set.
func (v VehicleInterest) IsZero() bool {
	return v.Make == "" && v.Model == "" && v.Year == 0
}

// ParsedLead is a normalized lead. ExternalID plus DealershipRef identify it;
// RawPayloadRef points at the archived original and is never rewritten.
type ParsedLead struct {
	ExternalID      string           `json:"externalId"`
	Customer        Customer         `json:"customer"`
	VehicleInterest *VehicleInterest `json:"vehicleInterest,omitempty"`
	DealershipRef   string           `json:"dealershipRef"`
	SourceProvider  string           `json:"sourceProvider"`
	RawPayloadRef   string           `json:"rawPayloadRef,omitempty"`
}

// DocumentMeta is what the transport knows about an inbound document.
type DocumentMeta struct {
	DealershipRef  string
	SourceProvider string
	RawPayloadRef  string
}

// RawDocument is one inbound lead document with its transport metadata.
type RawDocument struct {
	Body []byte
	Meta DocumentMeta
}
