// Package camerashm streams camera frames through a shared-memory ring buffer
// under the control of an external task registry.
//
// # Roles
//
// A session runs in one of two roles:
//
//   - Producer: opens a capture device, converts every frame to single-channel
//     luma of the stream shape, and writes it to the transport under the
//     stream key.
//   - Consumer: reads the latest frame from the transport and hands it to a
//     display sink. Missing frames are waited out with capped backoff.
//
// Both roles run next to a Watcher that polls the registry for the session's
// task. The session loop does not start streaming before the registry knows
// the task (registration gate) and stops cooperatively once the task reports
// REVOKED.
//
// # Basic Usage
//
//	svc, err := camerashm.NewService(camerashm.Config{
//	    Transport: transport,          // framering.NewShm(...)
//	    Registry:  reg,                // registry.NewMQTT(...)
//	    Camera:    opener,             // capture.NewV4L2Opener(...)
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	model, err := svc.Run(ctx,
//	    camerashm.StreamParameters{StreamKey: "camera:0", Shape: camerashm.DefaultShape, Role: camerashm.RoleProducer},
//	    camerashm.CaptureArguments{DeviceIndex: 0},
//	    camerashm.TaskHandle{TaskID: taskID},
//	)
//
// Run blocks until the session stopped and returns its TerminalModel.
// Cancelling ctx is equivalent to a stop request.
//
// # Stop Semantics
//
// A StopSignal is set exactly once; the first reason wins:
//
//   - ErrTaskRevoked: the watcher saw REVOKED
//   - ErrLocalQuit: the display sink asked to quit
//   - ctx cause: the caller cancelled (SIGINT in the CLI)
//   - a fatal error: the session could not continue
//
// The loop checks the signal before every iteration and every blocking wait
// selects on it, so a stop is observed within one loop iteration (bounded by
// the camera read timeout) once the watcher has seen it.
//
// # Error Handling
//
// Fatal (returned by Run, wrapped):
//   - ErrDeviceUnavailable
//   - ErrTransportUnavailable
//   - ErrSinkUnavailable
//
// Transient (counted in the TerminalModel, loop continues):
//   - ErrCaptureFailed
//   - ErrReadMiss
//   - registry query errors (treated as "no status")
package camerashm
