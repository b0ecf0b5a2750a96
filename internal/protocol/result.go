package protocol

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Result is the one-byte operation status carried by every response.
type Result uint8

const (
	ResultSuccess      Result = 0x00
	ResultInterrupted  Result = 0x01
	ResultTimeout      Result = 0x02
	ResultNoMemory     Result = 0x03
	ResultProtocolBad  Result = 0x04
	ResultOverflow     Result = 0x05
	ResultInvalid      Result = 0x06
	ResultRetry        Result = 0x07
	ResultNonexistent  Result = 0x08
	ResultUnknownError Result = 0xfe
	ResultMalfunction  Result = 0xff
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultInterrupted:
		return "interrupted"
	case ResultTimeout:
		return "timeout"
	case ResultNoMemory:
		return "no_memory"
	case ResultProtocolBad:
		return "protocol_bad"
	case ResultOverflow:
		return "overflow"
	case ResultInvalid:
		return "invalid"
	case ResultRetry:
		return "retry"
	case ResultNonexistent:
		return "nonexistent"
	case ResultUnknownError:
		return "unknown_error"
	case ResultMalfunction:
		return "malfunction"
	default:
		return fmt.Sprintf("result(0x%02x)", uint8(r))
	}
}

// ResultFromError maps a local failure onto the wire result reported to the
// peer. It never fails: anything it does not recognise is UnknownError.
func ResultFromError(err error) Result {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrNoMemory):
		return ResultNoMemory
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrInvalidCPort), errors.Is(err, ErrAlreadyExists):
		return ResultInvalid
	case errors.Is(err, ErrNotFound), errors.Is(err, os.ErrNotExist):
		return ResultNonexistent
	case errors.Is(err, ErrNotSupported), errors.Is(err, errors.ErrUnsupported), errors.Is(err, ErrProtocol):
		return ResultProtocolBad
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ResultTimeout
	case errors.Is(err, ErrInterrupted), errors.Is(err, context.Canceled):
		return ResultInterrupted
	case errors.Is(err, ErrOverflow):
		return ResultOverflow
	case errors.Is(err, ErrBusy):
		return ResultRetry
	default:
		return ResultUnknownError
	}
}
