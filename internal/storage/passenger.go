package storage

import (
	"fmt"
)

// PassengerColumnWidths is the column layout passenger stores are created with
var PassengerColumnWidths = []int{4, 15, 20, 4, 20, 6, 10}

var passengerAttributeNames = []string{
	"Passenger ID",
	"First Name",
	"Last Name",
	"Age",
	"Ticket Number",
	"Ticket Fare",
	"Purchase Date",
}

// Passenger is a single ticketed passenger keyed by PassengerID
type Passenger struct {
	PassengerID  string
	FirstName    string
	LastName     string
	Age          string
	TicketNumber string
	TicketFare   string
	PurchaseDate string
}

// NewPassenger returns an empty passenger, i.e. one whose key is the tombstone key
func NewPassenger() *Passenger {
	return &Passenger{PassengerID: TombstoneKey}
}

// NewPassengerRecord is a Factory for passenger records
func NewPassengerRecord() Record {
	return NewPassenger()
}

func (p *Passenger) Values() []string {
	return []string{
		p.PassengerID,
		p.FirstName,
		p.LastName,
		p.Age,
		p.TicketNumber,
		p.TicketFare,
		p.PurchaseDate,
	}
}

func (p *Passenger) SetValues(values []string) error {
	if len(values) != len(passengerAttributeNames) {
		return fmt.Errorf("%w: got %d passenger values, expected %d",
			ErrShapeMismatch, len(values), len(passengerAttributeNames))
	}

	p.PassengerID = values[0]
	p.FirstName = values[1]
	p.LastName = values[2]
	p.Age = values[3]
	p.TicketNumber = values[4]
	p.TicketFare = values[5]
	p.PurchaseDate = values[6]

	return nil
}

func (p *Passenger) AttributeName(col int) string {
	if col < 0 || col >= len(passengerAttributeNames) {
		return ""
	}
	return passengerAttributeNames[col]
}

func (p *Passenger) NumAttributes() int {
	return len(passengerAttributeNames)
}

func (p *Passenger) String() string {
	return fmt.Sprintf("\nPassenger ID: %s\n"+
		"\t* Name: %s %s\n"+
		"\t* Age: %s\n"+
		"\t* Ticket Info\n"+
		"\t\t* Number: %s\n"+
		"\t\t* Fare: %s\n"+
		"\t\t* Date of Purchase: %s",
		p.PassengerID, p.FirstName, p.LastName, p.Age, p.TicketNumber, p.TicketFare, p.PurchaseDate)
}

var _ Record = &Passenger{}
var _ Record = &Row{}
