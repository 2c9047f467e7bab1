package coordinator

import "zstack-gateway/internal/zcl"

// ConvertMode selects how a document is translated.
type ConvertMode uint8

const (
	ModeSet ConvertMode = iota + 1
	ModeGet
)

// OpKind is the kind of ZCL request an Operation maps to.
type OpKind uint8

const (
	OpRead OpKind = iota + 1
	OpWrite
	OpCommand
)

// Operation is one ZCL request derived from a document.
type Operation struct {
	Kind    OpKind
	Cluster uint16

	AttrIDs []uint16          // OpRead
	Records []zcl.WriteRecord // OpWrite
	Command uint8             // OpCommand
	Payload []byte            // OpCommand

	// State is published once the request succeeds.
	State Document
}

// Converter translates between documents and ZCL.
type Converter interface {
	ToZigbee(doc Document, mode ConvertMode) ([]Operation, error)
	FromZigbee(cluster uint16, records []zcl.Record) Document
}
