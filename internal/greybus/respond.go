package greybus

import (
	"github.com/danmuck/greybus/internal/protocol"
	"github.com/danmuck/greybus/internal/protocol/message"
)

// Respond answers req on cport with result and payload. req is consumed.
// Oneway requests and responses are released without a reply. If the
// allocator is exhausted the request itself becomes an empty NoMemory
// response.
func (n *Node) Respond(req *message.Message, cport uint16, result protocol.Result, payload []byte) error {
	if req == nil {
		return ErrNilMessage
	}
	if req.IsResponse() || req.IsOneway() {
		req.Release()
		return nil
	}
	return n.Send(cport, n.buildResponse(req, payload, result))
}

// RespondEmpty answers req with a zero-length payload.
func (n *Node) RespondEmpty(req *message.Message, cport uint16, result protocol.Result) error {
	return n.Respond(req, cport, result, nil)
}

// RespondSuccess answers req with a successful result and payload.
func (n *Node) RespondSuccess(req *message.Message, cport uint16, payload []byte) error {
	return n.Respond(req, cport, protocol.ResultSuccess, payload)
}

// RespondError translates a local failure into the wire result for req.
func (n *Node) RespondError(req *message.Message, cport uint16, err error) error {
	return n.Respond(req, cport, protocol.ResultFromError(err), nil)
}

// RejectUnknown answers an operation type the driver does not implement.
func (n *Node) RejectUnknown(req *message.Message, cport uint16) error {
	n.log.Warn().Uint16("cport", cport).Uint8("type", req.Type()).Msg("unsupported operation")
	return n.Respond(req, cport, protocol.ResultProtocolBad, nil)
}

// buildResponse allocates the response for req and releases req, or turns
// req into the response when no message memory is left.
func (n *Node) buildResponse(req *message.Message, payload []byte, result protocol.Result) *message.Message {
	resp, err := n.alloc.Response(req, payload, result)
	if err != nil {
		n.log.Warn().Err(err).Uint8("type", req.Type()).Msg("response allocation failed; replying in place")
		return req.IntoResponse(protocol.ResultFromError(err))
	}
	req.Release()
	return resp
}
