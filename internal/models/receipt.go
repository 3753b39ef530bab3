package models

// ReceiptRecord is the structured receipt page of a reservation.
type ReceiptRecord struct {
	ResID         string                 `json:"resId" bson:"resId"`
	ExpireDate    string                 `json:"expireDate,omitempty" bson:"expireDate,omitempty"`
	City          string                 `json:"city,omitempty" bson:"city,omitempty"`
	TripType      string                 `json:"tripType,omitempty" bson:"tripType,omitempty"`
	DepartureDate string                 `json:"departureDate,omitempty" bson:"departureDate,omitempty"`
	AgentName     string                 `json:"agentName,omitempty" bson:"agentName,omitempty"`
	AgentPhone    string                 `json:"agentPhone,omitempty" bson:"agentPhone,omitempty"`
	AgentAddress  string                 `json:"agentAddress,omitempty" bson:"agentAddress,omitempty"`
	ExecutorName  string                 `json:"executorName,omitempty" bson:"executorName,omitempty"`
	Itinerary     []ItineraryItem        `json:"itinerary" bson:"itinerary"`
	Passengers    []PassengerReceiptItem `json:"passengers" bson:"passengers"`
	PaymentURL    string                 `json:"paymentUrl,omitempty" bson:"paymentUrl,omitempty"`
}

type ItineraryItem struct {
	Row          int    `json:"row" bson:"row"`
	EntryDate    string `json:"entryDate" bson:"entryDate"`
	City         string `json:"city" bson:"city"`
	Hotel        string `json:"hotel" bson:"hotel"`
	ExitDate     string `json:"exitDate" bson:"exitDate"`
	StayDuration int    `json:"stayDuration,omitempty" bson:"stayDuration,omitempty"`
}

type PassengerReceiptItem struct {
	ID         string `json:"id" bson:"id"`
	NationalID string `json:"nationalId" bson:"nationalId"`
	FirstName  string `json:"firstName" bson:"firstName"`
	LastName   string `json:"lastName" bson:"lastName"`
	Birthdate  string `json:"birthdate" bson:"birthdate"`
	Cost       int64  `json:"cost" bson:"cost"`
}
