package provider

// Request is the provider-allocated record backing one non-blocking
// operation (send, recv, stream send/recv). Its layout is fixed: the
// zero value is what every provider implementation hands back for a
// freshly submitted, not-yet-completed operation.
//
// The submission/completion race is resolved entirely through this
// struct: a provider implementation fills in
// Status/RecvLength/SenderTag and, if Callback is already non-nil,
// invokes it immediately and exactly once; otherwise it sets Completed
// to true and returns, leaving the caller (which has not yet had a
// chance to set Callback) to notice Completed on its own and finish the
// operation without ever observing a callback invocation for it. A
// caller that finds Completed still false stores Callback and lets the
// provider invoke it later, from some future Progress call.
type Request struct {
	// Completed is set by the provider's internal completion logic
	// exactly when it finds Callback nil at completion time. A caller
	// must check this immediately after a submission call returns an
	// in-progress Request.
	Completed bool

	// Status is valid once Completed is true or once Callback has been
	// invoked.
	Status Status

	// RecvLength is the number of bytes actually received; meaningful
	// only for recv-shaped operations.
	RecvLength int

	// SenderTag is the full 64-bit tag the message was received under;
	// meaningful only for tag-recv operations with a wildcard sender
	// mask (the iomsg receive), letting the caller decode the sender's
	// conn_id out of band.
	SenderTag uint64

	// Callback is set by the caller after inspecting Completed. The
	// provider invokes it exactly once, whenever the operation finishes,
	// and never touches the request again afterwards.
	Callback func(*Request)

	// Priv is reserved for the owning provider implementation's private
	// bookkeeping (e.g. which endpoint a pending receive is posted
	// against, for cancellation). Callers outside the provider must not
	// read or write it.
	Priv any
}

// Outcome is the three-way result of a non-blocking submission: done
// inline, failed inline, or in progress via an opaque Request.
type Outcome struct {
	kind    outcomeKind
	status  Status
	request *Request
}

type outcomeKind int

const (
	outcomeDone outcomeKind = iota
	outcomeFailed
	outcomeInProgress
)

// Done builds an Outcome representing synchronous success.
func Done() Outcome { return Outcome{kind: outcomeDone, status: StatusOK} }

// Failed builds an Outcome representing a synchronous failure.
func Failed(status Status) Outcome { return Outcome{kind: outcomeFailed, status: status} }

// InProgress builds an Outcome wrapping a not-yet-completed Request.
func InProgress(req *Request) Outcome { return Outcome{kind: outcomeInProgress, request: req} }

// IsDone reports whether the operation already finished successfully
// when the submission call returned.
func (o Outcome) IsDone() bool { return o.kind == outcomeDone }

// IsFailed reports whether the operation failed synchronously.
func (o Outcome) IsFailed() bool { return o.kind == outcomeFailed }

// Status is valid when IsFailed is true.
func (o Outcome) Status() Status { return o.status }

// Request is valid (non-nil) when neither IsDone nor IsFailed holds.
func (o Outcome) Request() *Request { return o.request }
