// Package router classifies inbound stream frames and dispatches data
// payloads to a consumer.
//
// Every frame parses into one of three kinds:
//
//	COMMAND              -> KindControlAck
//	DATA, ANNOUNCEMENT   -> KindDataPayload
//	anything else        -> KindUnknown, or KindControlAck when the frame
//	                        carries the "SUCCESS" marker or a success flag
//
// Unknown frames are delivered to the handler unless Config.DeliverUnknown is
// false, so new payload shapes are surfaced rather than silently dropped. The
// router never deduplicates; that belongs to the consumer.
package router
