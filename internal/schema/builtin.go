package schema

import "fmt"

// LeaseV1 extracts property and term details from residential lease agreements.
var LeaseV1 = &Schema{
	ID:          "lease-v1",
	Description: "Residential lease agreements",
	Fields: []Field{
		{Name: "city", Type: TypeString, Description: "The city where the property is located.", Required: true},
		{Name: "street", Type: TypeString, Description: "The street address of the property.", Required: true},
		{Name: "province", Type: TypeString, Description: "The province or state of the property.", Required: true},
		{Name: "postalcode", Type: TypeString, Description: "The postal code or ZIP code of the property.", Required: true},
		{Name: "lease_start_date", Type: TypeDate, Description: "The start date of the lease agreement in YYYY-MM-DD format.", Required: true, Default: "1900-01-01"},
		{Name: "lease_end_date", Type: TypeDate, Description: "The end date of the lease agreement in YYYY-MM-DD format.", Required: true, Default: "1900-01-01"},
		{Name: "rent", Type: TypeInteger, Description: "The monthly rent amount.", Required: true, Default: int64(-1)},
		{Name: "document_language", Type: TypeString, Description: "The language of the lease document.", Required: true},
	},
}

// ContractV1 is a general purpose commercial contract schema.
var ContractV1 = &Schema{
	ID:          "contract-v1",
	Description: "Commercial contracts",
	Fields: []Field{
		{Name: "parties", Type: TypeString, Description: "Names of all contracting parties, separated by semicolons.", Required: true},
		{Name: "effective_date", Type: TypeDate, Description: "The date the contract takes effect in YYYY-MM-DD format.", Default: "1900-01-01"},
		{Name: "expiry_date", Type: TypeDate, Description: "The date the contract expires in YYYY-MM-DD format.", Default: "1900-01-01"},
		{Name: "total_amount", Type: TypeNumber, Description: "The total contract value as a number without currency symbols.", Default: float64(-1)},
		{Name: "currency", Type: TypeString, Description: "The ISO 4217 currency code of the contract value."},
		{Name: "document_language", Type: TypeString, Description: "The language of the document.", Required: true},
	},
}

var builtins = map[string]*Schema{
	LeaseV1.ID:    LeaseV1,
	ContractV1.ID: ContractV1,
}

// Lookup returns the built-in schema with the given ID.
func Lookup(id string) (*Schema, error) {
	s, ok := builtins[id]
	if !ok {
		return nil, fmt.Errorf("unknown extraction schema %q", id)
	}
	return s, nil
}
