package cerr

import (
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
)

type Code int

const (
	OK = Code(iota)
	Canceled
	Unknown
	InvalidArgument
	Internal
	NotFound
	DestinationCollision
	ParseError
	LaunchError
	ExternalCallFailure
	PersistenceWriteFailure
)

var codeNames = map[Code]string{
	OK:                      "ok",
	Canceled:                "canceled",
	Unknown:                 "unknown",
	InvalidArgument:         "invalid_argument",
	Internal:                "internal",
	NotFound:                "not_found",
	DestinationCollision:    "destination_collision",
	ParseError:              "parse_error",
	LaunchError:             "launch_error",
	ExternalCallFailure:     "external_call_failure",
	PersistenceWriteFailure: "persistence_write_failure",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown"
}

// Retryable reports whether an operation failing with c may succeed if
// attempted again without human intervention.
func (c Code) Retryable() bool {
	switch c {
	case NotFound, DestinationCollision, ExternalCallFailure, PersistenceWriteFailure, Canceled:
		return true
	default:
		return false
	}
}

// Level is the slog level failures of this code are reported at.
func (c Code) Level() slog.Level {
	switch c {
	case OK, Canceled, NotFound:
		return slog.LevelInfo
	case DestinationCollision, PersistenceWriteFailure:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func (c Code) HTTPCode() int {
	switch c {
	case OK:
		return http.StatusOK
	case Canceled:
		return 499
	case InvalidArgument, ParseError:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case DestinationCollision:
		return http.StatusConflict
	case ExternalCallFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var codeToConnectCode = map[Code]connect.Code{
	Canceled:                connect.CodeCanceled,
	Unknown:                 connect.CodeUnknown,
	InvalidArgument:         connect.CodeInvalidArgument,
	Internal:                connect.CodeInternal,
	NotFound:                connect.CodeNotFound,
	DestinationCollision:    connect.CodeAlreadyExists,
	ParseError:              connect.CodeInvalidArgument,
	LaunchError:             connect.CodeFailedPrecondition,
	ExternalCallFailure:     connect.CodeUnavailable,
	PersistenceWriteFailure: connect.CodeInternal,
}

func (c Code) ConnectCode() connect.Code {
	if code, ok := codeToConnectCode[c]; ok {
		return code
	}
	return connect.CodeUnknown
}
