// Package switchbot connects the device synchronisers to the Gray Logic
// message bus.
//
// The bridge owns one synchronizer.Synchronizer per configured device. It
// translates bus commands into capability requests, reports asynchronous
// device errors, routes vendor webhook pushes to the right device and
// publishes periodic health.
//
// # MQTT Topics
//
//	graylogic/command/switchbot/{device_id}   Core -> bridge, capability writes
//	graylogic/ack/switchbot/{device_id}       bridge -> Core, command acknowledgement
//	graylogic/state/switchbot/{device_id}     bridge -> Core, whole snapshot (retained)
//	graylogic/error/switchbot/{device_id}     bridge -> Core, unresolved device errors
//	graylogic/health/switchbot                bridge -> Core, health (retained)
//
// An acknowledgement only confirms that the request was valid and has been
// applied optimistically. The outcome of the vendor write arrives as a state
// update, or as an error message followed by a rolled-back state.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package switchbot
