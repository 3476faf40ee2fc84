package tool

import (
	"sync"

	"github.com/cloudwego/eino/schema"
)

const (
	NameCheckAvailability = "check_availability"
	NameBookAppointment   = "book_appointment"
	NameCancelAppointment = "cancel_appointment"
	NameLookupCustomer    = "lookup_customer"
	NameTransferToSupport = "transfer_to_support"
)

var catalog = sync.OnceValue(func() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: NameCheckAvailability,
			Desc: "List free appointment slots for one day.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"date": {Type: schema.String, Desc: "Day to check, formatted YYYY-MM-DD", Required: true},
			}),
		},
		{
			Name: NameBookAppointment,
			Desc: "Book an appointment slot. Only call after the customer confirmed date, time and name.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"date":  {Type: schema.String, Desc: "Day, formatted YYYY-MM-DD", Required: true},
				"time":  {Type: schema.String, Desc: "Slot start, formatted HH:MM (24h)", Required: true},
				"name":  {Type: schema.String, Desc: "Customer full name", Required: true},
				"phone": {Type: schema.String, Desc: "Customer phone number"},
				"notes": {Type: schema.String, Desc: "Reason for the visit or other notes"},
			}),
		},
		{
			Name: NameCancelAppointment,
			Desc: "Cancel a previously booked appointment.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"appointment_id": {Type: schema.String, Desc: "Id returned by book_appointment", Required: true},
			}),
		},
		{
			Name: NameLookupCustomer,
			Desc: "Look up a customer record by phone number.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"phone": {Type: schema.String, Desc: "Phone number in international format", Required: true},
			}),
		},
		{
			Name: NameTransferToSupport,
			Desc: "Hand the conversation over to a human representative.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"reason": {Type: schema.String, Desc: "Short reason for the transfer"},
			}),
		},
	}
})

// Catalog returns the process-wide tool declarations. The slice is built once
// and must not be modified.
func Catalog() []*schema.ToolInfo {
	return catalog()
}
