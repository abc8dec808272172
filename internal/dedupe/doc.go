// Package dedupe suppresses redelivered activities. Channels retry webhook
// calls they consider unacknowledged, so the transport marks each activity
// ID here and acknowledges repeats without routing them again.
package dedupe
