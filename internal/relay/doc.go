// Package relay is the anonymous lobby fan-out core.
//
// One sender's message becomes a personalized copy in every other member's
// private chat. The pieces:
//
//   - Dispatcher: entry point; routes singles to the Relayer and album
//     items to the Coalescer.
//   - Relayer: formats and fans out one item, sequentially, behind a rate
//     limiter, with per-recipient failure isolation.
//   - Coalescer: buffers media-group items until quiescence and fans the
//     group out as one grouped send per recipient.
//   - Propagator: pushes a sender's edit onto every existing copy.
//   - SendWithRetry: the single outbound send path with the classified
//     retry policy.
//
// Everything external (lobby membership, compliance, blocks, transport,
// stores) enters through narrow interfaces; the core has no inbound
// surface of its own.
package relay
