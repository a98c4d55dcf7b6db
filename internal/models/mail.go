package models

// Mail is a forwarding alias: mail to any receive address is delivered to
// every destination address
type Mail struct {
	ID                   int64
	Name                 string
	ReceiveAddresses     []string
	DestinationAddresses []string
}
