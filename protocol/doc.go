// Package protocol implements the framing and payload encodings of the AMS/ADS
// protocol that clients use to talk to an automation device router.
//
// === Framing
//
// Every frame on the TCP stream is made of two fixed size headers followed by
// the command payload. All integers are little-endian.
//
//   ```
//   AMS/TCP header (6 bytes)
//     reserved        uint16
//     length          uint32   length of the AoE header + payload
//
//   AoE header (32 bytes)
//     target netID    [6]byte
//     target port     uint16
//     source netID    [6]byte
//     source port     uint16
//     command id      uint16
//     state flags     uint16
//     payload length  uint32
//     error code      uint32
//     invoke id       uint32
//   ```
//
// The invoke id is chosen by the requester and echoed by the responder so
// the requester can associate the reply with the right request. Several
// requests and their responses can interleave with device notifications on
// the same connection, but a single frame is never split by another.
//
// === Device notifications
//
// DEVICE_NOTIFICATION frames are pushed by the device without a request. Their
// payload is a notification stream:
//
//   ```
//   length   uint32              bytes following this field
//   stamps   uint32
//   stamp * stamps
//     timestamp  uint64          FILETIME, 100ns ticks since 1601-01-01 UTC
//     samples    uint32
//     sample * samples
//       handle   uint32
//       size     uint32
//       data     [size]byte
//   ```
//
package protocol
