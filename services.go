package digiscore

import "strings"

// Column names shared by every stage of the pipeline.
const (
	CityNameColumn     = "City Name"
	ZoneNameColumn     = "Zone Name"
	ScoreColumn        = "Digital_Inclusion_Score"
	ClusterColumn      = "Cluster"
	ClusterLabelColumn = "Cluster_Label"

	// serviceColumnMarker identifies availability columns in the raw survey.
	serviceColumnMarker = "[Yes / No]"
)

// ServiceConfig describes one online municipal service tracked by the survey.
type ServiceConfig struct {
	Key          string // internal key
	Column       string // verbatim column name in the raw table
	FriendlyName string // used in fallback recommendations
	PromptName   string // used in the AI prompt
}

// Services is the fixed, ordered list of the eight services that make up the
// inclusion score. Order matters: fallback recommendations list missing
// services in this order.
var Services = []ServiceConfig{
	{
		Key:          "tax_payment",
		Column:       "Online Payment of taxes (property / water) [Yes / No]",
		FriendlyName: "Online Tax Payments",
		PromptName:   "Online Tax Payments",
	},
	{
		Key:          "traffic_violations",
		Column:       "Online Payment against traffic violations (challans, fines, etc.) [Yes / No]",
		FriendlyName: "Traffic Violation Payments",
		PromptName:   "Online Traffic Violation Payments",
	},
	{
		Key:          "service_connections",
		Column:       "Online request for Service Connections (gas, water supply) [Yes / No]",
		FriendlyName: "Service Connection Requests",
		PromptName:   "Online Service Connection Requests",
	},
	{
		Key:          "certificates",
		Column:       "Online request for Certificates / Licenses (marriage, driving, birth & death certificates) [Yes / No]",
		FriendlyName: "Certificate/License Requests",
		PromptName:   "Online Certificate/License Requests",
	},
	{
		Key:          "tenders",
		Column:       "Online display of Tenders (for various works) across various departments/ utilities [Yes / No]",
		FriendlyName: "Tender Displays",
		PromptName:   "Online Tender Displays",
	},
	{
		Key:          "grievance",
		Column:       "Online Grievance management (tracking of complaints) [Yes / No]",
		FriendlyName: "Grievance Management",
		PromptName:   "Online Grievance Management",
	},
	{
		Key:          "tickets",
		Column:       "Online buying of Tickets and passes (e.g. public transport, cultural events) [Yes / No]",
		FriendlyName: "Ticket Purchases",
		PromptName:   "Online Ticket Purchases",
	},
	{
		Key:          "disclosure",
		Column:       "Online request of Disclosure of documents (e.g. budgets, plans, RTI requests) [Yes / No]",
		FriendlyName: "Document Disclosure",
		PromptName:   "Online Document Disclosure",
	},
}

// NumServices is the upper bound of the inclusion score.
var NumServices = len(Services)

// Flag is the availability of a single service for a city.
type Flag int

const (
	FlagMissing Flag = iota
	FlagNo
	FlagYes
)

// ParseFlag maps a raw cell to a Flag. Matching is case-insensitive and
// ignores surrounding whitespace. Anything other than yes/no is Missing.
func ParseFlag(value string) Flag {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "YES":
		return FlagYes
	case "NO":
		return FlagNo
	default:
		return FlagMissing
	}
}

func (f Flag) String() string {
	switch f {
	case FlagYes:
		return "Yes"
	case FlagNo:
		return "No"
	default:
		return ""
	}
}

// Available reports whether the service is online.
func (f Flag) Available() bool { return f == FlagYes }
