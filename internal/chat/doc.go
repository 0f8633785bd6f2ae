// Package chat layers conversation semantics over the chatlog package: the
// member set with roles and join-time visibility watermarks, the permission
// matrix, and the message mutations (send, edit, delete, react, pin).
//
// A Chat aggregate owns one conversation. All mutations validate fully
// before anything is appended, so a rejected mutation leaves the log
// untouched; the mutex serializes mutations the same way the single
// owning process serializes log appends.
//
// Visibility is watermark-based: a member joining a chat whose history is
// hidden gets min-visible indexes fixed at the join point, and every read
// and message-targeting mutation clamps to them. Watermarks never move
// after join.
//
// Notification fan-out is data-only: SendMessage returns the recipient set
// (members or thread participants, plus mentions, minus sender and muted)
// and dispatch belongs to an external collaborator.
package chat
