// Package sockopt carries the per-socket configuration knobs spec.md §6
// names. This is an embeddable library, not a standalone service, so the
// configuration surface is a plain struct built via functional options
// (the bassosimone-nop Config-construction idiom), not a file-backed
// config loader.
package sockopt

import "time"

// Options holds every knob the core consumes, per spec.md §6.
type Options struct {
	// RCVMAXSIZE: if >= 0 and exceeded by an announced frame size, the
	// connection is failed. -1 disables the check.
	RCVMAXSIZE int64

	// RECONNECT_IVL/RECONNECT_IVL_MAX bound the connecting-side backoff.
	ReconnectIvl    time.Duration
	ReconnectIvlMax time.Duration

	// SNDBUF/RCVBUF size the underlying TCP socket buffers; 0 leaves
	// the OS default untouched.
	SndBuf int
	RcvBuf int

	// TCP_NODELAY disables Nagle's algorithm per endpoint.
	TCPNoDelay bool

	// IPV4ONLY restricts address-family selection to IPv4.
	IPv4Only bool

	// REQ_RESEND_IVL: default 60s, per spec.md §4.H.
	ReqResendIvl time.Duration

	// SURVEYOR_DEADLINE: default 1s, per spec.md §4.I.
	SurveyorDeadline time.Duration

	// WS_MSG_TYPE selects binary or text WebSocket data frames.
	WSMsgType WSMsgType
}

// WSMsgType selects the WebSocket opcode used to frame outbound data,
// per spec.md §6's WS_MSG_TYPE.
type WSMsgType int

const (
	WSMsgBinary WSMsgType = iota
	WSMsgText
)

// defaults matches spec.md §6's stated default values exactly.
func defaults() Options {
	return Options{
		RCVMAXSIZE:       -1,
		ReconnectIvl:     100 * time.Millisecond,
		ReconnectIvlMax:  0, // 0 means "equal to ReconnectIvl", per original nanomsg default.
		ReqResendIvl:     60 * time.Second,
		SurveyorDeadline: time.Second,
		WSMsgType:        WSMsgBinary,
	}
}

// Option configures an Options value.
type Option func(*Options)

// New builds Options from opts, layered onto spec.md §6's defaults.
func New(opts ...Option) Options {
	var o = defaults()
	for _, fn := range opts {
		fn(&o)
	}
	if o.ReconnectIvlMax < o.ReconnectIvl {
		o.ReconnectIvlMax = o.ReconnectIvl
	}
	return o
}

// WithRCVMAXSIZE sets RCVMAXSIZE; n < 0 disables the check.
func WithRCVMAXSIZE(n int64) Option { return func(o *Options) { o.RCVMAXSIZE = n } }

// WithReconnectIvl sets RECONNECT_IVL.
func WithReconnectIvl(d time.Duration) Option { return func(o *Options) { o.ReconnectIvl = d } }

// WithReconnectIvlMax sets RECONNECT_IVL_MAX.
func WithReconnectIvlMax(d time.Duration) Option {
	return func(o *Options) { o.ReconnectIvlMax = d }
}

// WithSndBuf sets SNDBUF.
func WithSndBuf(n int) Option { return func(o *Options) { o.SndBuf = n } }

// WithRcvBuf sets RCVBUF.
func WithRcvBuf(n int) Option { return func(o *Options) { o.RcvBuf = n } }

// WithTCPNoDelay sets TCP_NODELAY.
func WithTCPNoDelay(v bool) Option { return func(o *Options) { o.TCPNoDelay = v } }

// WithIPv4Only sets IPV4ONLY.
func WithIPv4Only(v bool) Option { return func(o *Options) { o.IPv4Only = v } }

// WithReqResendIvl sets REQ_RESEND_IVL.
func WithReqResendIvl(d time.Duration) Option { return func(o *Options) { o.ReqResendIvl = d } }

// WithSurveyorDeadline sets SURVEYOR_DEADLINE.
func WithSurveyorDeadline(d time.Duration) Option {
	return func(o *Options) { o.SurveyorDeadline = d }
}

// WithWSMsgType sets WS_MSG_TYPE.
func WithWSMsgType(t WSMsgType) Option { return func(o *Options) { o.WSMsgType = t } }
