// Package protocol defines the coordinator's wire messages, status codes and
// the gRPC service that carries them.
package protocol

import (
	"fmt"

	"github.com/ravi-parthasarathy/stagecoord/pkg/argmap"
)

// Status codes carried in every response.
const (
	StatusOK                int32 = 200
	StatusInvalidArgument   int32 = 400
	StatusUnknownTask       int32 = 404
	StatusConflict          int32 = 409
	StatusIllegalTransition int32 = 412
	StatusInternal          int32 = 500
)

var statusText = map[int32]string{
	StatusOK:                "OK",
	StatusInvalidArgument:   "INVALID_ARGUMENT",
	StatusUnknownTask:       "UNKNOWN_TASK",
	StatusConflict:          "CONFLICT",
	StatusIllegalTransition: "ILLEGAL_TRANSITION",
	StatusInternal:          "INTERNAL",
}

// StatusText returns the symbolic name of code, or "STATUS_<code>" if unknown.
func StatusText(code int32) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return fmt.Sprintf("STATUS_%d", code)
}

// Status is the application-level outcome of a call.
type Status struct {
	Code    int32  `json:"code"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the status signals success.
func (s Status) OK() bool { return s.Code == StatusOK }

// Success is the status returned by every successful operation.
func Success() Status { return Status{Code: StatusOK, Message: "OK"} }

// Failure builds a non-200 status whose message is prefixed by the code name.
func Failure(code int32, format string, a ...any) Status {
	return Status{Code: code, Message: StatusText(code) + ": " + fmt.Sprintf(format, a...)}
}

// Endpoint identifies a reachable stage instance.
type Endpoint struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	Port string `json:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s@%s:%s", e.Name, e.IP, e.Port)
}

// IsZero reports whether no field of e is set.
func (e Endpoint) IsZero() bool { return e == Endpoint{} }

type InformPreviousServiceInfoRequest struct {
	TaskID         string        `json:"taskId"`
	PreServiceName string        `json:"preServiceName"`
	PreServiceIP   string        `json:"preServiceIp"`
	PreServicePort string        `json:"preServicePort"`
	Args           []argmap.Pair `json:"args,omitempty"`
}

// Previous returns the predecessor endpoint named by the request.
func (r *InformPreviousServiceInfoRequest) Previous() Endpoint {
	return Endpoint{Name: r.PreServiceName, IP: r.PreServiceIP, Port: r.PreServicePort}
}

type InformPreviousServiceInfoResponse struct {
	Response Status `json:"response"`
}

type InformCurrentServiceInfoRequest struct {
	TaskID string        `json:"taskId"`
	Args   []argmap.Pair `json:"args,omitempty"`
}

type InformCurrentServiceInfoResponse struct {
	Response Status        `json:"response"`
	Args     []argmap.Pair `json:"args,omitempty"`
}

type StartRequest struct {
	TaskID string `json:"taskId"`
}

type StartResponse struct {
	Response Status `json:"response"`
}

type StopRequest struct {
	TaskID string `json:"taskId"`
}

type StopResponse struct {
	Response Status `json:"response"`
}
