package consumer

// RegisterDefaultHandlers binds the upstream event vocabulary to the
// handlers. The provider has renamed some event types over the years; the
// older spellings stay registered as aliases.
func RegisterDefaultHandlers(d *Dispatcher, calls *CallHandler, voicemails *VoicemailHandler, messages *MessageHandler) {
	d.Register("call.ring", HandlerFunc(calls.Ring))
	d.Register("call.ringing", HandlerFunc(calls.Ring))
	d.Register("call.started", HandlerFunc(calls.Started))
	d.Register("call.answered", HandlerFunc(calls.Started))
	d.Register("call.ended", HandlerFunc(calls.Ended))
	d.Register("call.hangup", HandlerFunc(calls.Ended))
	d.Register("call.missed", HandlerFunc(calls.Missed))
	d.Register("call.rejected", HandlerFunc(calls.Rejected))
	d.Register("call.recording", HandlerFunc(calls.Recording))

	d.Register("voicemail.received", voicemails)
	d.Register("call.voicemail", voicemails)

	d.Register("sms.received", messages)
	d.Register("sms.sent", messages)
}
