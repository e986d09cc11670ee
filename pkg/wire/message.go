// Package wire implements the WebSocketMessage frame format carried inside
// every chat-socket connection: a protobuf-shaped envelope with either a
// request or a response nested inside, matching the teacher's
// pkg/protocol.Message wrapping/unwrapping shape but generalized to the
// request/response RPC framing the connection manager needs.
//
// There is no .proto file or protoc step available to this module, so the
// wire format below is hand-written against the real
// google.golang.org/protobuf/encoding/protowire package rather than
// generated code. Field numbers are fixed and documented field-by-field.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MessageType mirrors the protobuf WebSocketMessage.Type enum.
type MessageType int32

const (
	MessageTypeUnspecified MessageType = 0
	MessageTypeRequest     MessageType = 1
	MessageTypeResponse    MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	default:
		return "UNSPECIFIED"
	}
}

// RequestMessage is the wire shape of WebSocketRequestMessage (spec.md §6).
type RequestMessage struct {
	Verb      string
	Path      string
	Body      []byte
	Headers   []string
	RequestID uint64
}

// ResponseMessage is the wire shape of WebSocketResponseMessage (spec.md §6).
type ResponseMessage struct {
	RequestID uint64
	Status    uint32
	Message   string
	Headers   []string
	Body      []byte
}

// Message is the wire shape of WebSocketMessage: exactly one of Request or
// Response is populated, selected by Type.
type Message struct {
	Type     MessageType
	Request  *RequestMessage
	Response *ResponseMessage
}

// field numbers, fixed by the wire format this package implements.
const (
	fieldMessageType     = 1
	fieldMessageRequest  = 2
	fieldMessageResponse = 3

	fieldRequestVerb      = 1
	fieldRequestPath      = 2
	fieldRequestBody      = 3
	fieldRequestHeaders   = 4
	fieldRequestRequestID = 5

	fieldResponseRequestID = 1
	fieldResponseStatus    = 2
	fieldResponseMessage   = 3
	fieldResponseHeaders   = 4
	fieldResponseBody      = 5
)

// Marshal encodes a Message into its protobuf wire representation.
func (m *Message) Marshal() ([]byte, error) {
	var b []byte
	if m.Type != MessageTypeUnspecified {
		b = protowire.AppendTag(b, fieldMessageType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Type))
	}
	if m.Request != nil {
		inner, err := m.Request.marshal()
		if err != nil {
			return nil, fmt.Errorf("wire: marshal request: %w", err)
		}
		b = protowire.AppendTag(b, fieldMessageRequest, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	if m.Response != nil {
		inner := m.Response.marshal()
		b = protowire.AppendTag(b, fieldMessageResponse, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b, nil
}

// Unmarshal decodes a Message from its protobuf wire representation.
// Unknown fields are skipped, matching protobuf's forward-compatibility
// contract.
func (m *Message) Unmarshal(data []byte) error {
	*m = Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == fieldMessageType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Type = MessageType(v)
			data = data[n:]
		case num == fieldMessageRequest && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			req := &RequestMessage{}
			if err := req.unmarshal(v); err != nil {
				return fmt.Errorf("wire: unmarshal request: %w", err)
			}
			m.Request = req
			data = data[n:]
		case num == fieldMessageResponse && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			resp := &ResponseMessage{}
			if err := resp.unmarshal(v); err != nil {
				return fmt.Errorf("wire: unmarshal response: %w", err)
			}
			m.Response = resp
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func (r *RequestMessage) marshal() ([]byte, error) {
	if r.Verb == "" {
		return nil, fmt.Errorf("verb must not be empty")
	}
	var b []byte
	b = protowire.AppendTag(b, fieldRequestVerb, protowire.BytesType)
	b = protowire.AppendString(b, r.Verb)
	b = protowire.AppendTag(b, fieldRequestPath, protowire.BytesType)
	b = protowire.AppendString(b, r.Path)
	if len(r.Body) > 0 {
		b = protowire.AppendTag(b, fieldRequestBody, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Body)
	}
	for _, h := range r.Headers {
		b = protowire.AppendTag(b, fieldRequestHeaders, protowire.BytesType)
		b = protowire.AppendString(b, h)
	}
	b = protowire.AppendTag(b, fieldRequestRequestID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.RequestID)
	return b, nil
}

func (r *RequestMessage) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == fieldRequestVerb && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Verb = v
			data = data[n:]
		case num == fieldRequestPath && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Path = v
			data = data[n:]
		case num == fieldRequestBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Body = append([]byte(nil), v...)
			data = data[n:]
		case num == fieldRequestHeaders && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Headers = append(r.Headers, v)
			data = data[n:]
		case num == fieldRequestRequestID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.RequestID = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func (r *ResponseMessage) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldResponseRequestID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.RequestID)
	b = protowire.AppendTag(b, fieldResponseStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Status))
	if r.Message != "" {
		b = protowire.AppendTag(b, fieldResponseMessage, protowire.BytesType)
		b = protowire.AppendString(b, r.Message)
	}
	for _, h := range r.Headers {
		b = protowire.AppendTag(b, fieldResponseHeaders, protowire.BytesType)
		b = protowire.AppendString(b, h)
	}
	if len(r.Body) > 0 {
		b = protowire.AppendTag(b, fieldResponseBody, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Body)
	}
	return b
}

func (r *ResponseMessage) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == fieldResponseRequestID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.RequestID = v
			data = data[n:]
		case num == fieldResponseStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Status = uint32(v)
			data = data[n:]
		case num == fieldResponseMessage && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Message = v
			data = data[n:]
		case num == fieldResponseHeaders && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Headers = append(r.Headers, v)
			data = data[n:]
		case num == fieldResponseBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Body = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}
