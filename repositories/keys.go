// Package repositories persists chats, memberships, and the per-chat
// message log in BadgerDB, and indexes message content in Bluge.
package repositories

import (
	"fmt"

	"github.com/google/uuid"
)

// Key layout. The padded sequence number gives lexicographic order equal
// to numeric order, so a prefix scan over msg:{chat}: yields the log in
// ascending sequence with no sorting step.
//
//	agent:{agent_id}          -> agent row
//	agentname:{name}          -> agent id (unique name index)
//	cred:{agent_id}           -> argon2id credential hash
//	chat:{chat_id}            -> chat row
//	member:{chat_id}:{agent}  -> membership row
//	agentchat:{agent}:{chat}  -> reverse membership index (empty value)
//	seq:{chat_id}             -> last allocated sequence number
//	msg:{chat_id}:{seq:019d}  -> message row
//	msgid:{message_id}        -> key of the message row
const seqDigits = "%019d"

func agentKey(id uuid.UUID) []byte       { return []byte("agent:" + id.String()) }
func agentNameKey(name string) []byte    { return []byte("agentname:" + name) }
func credKey(id uuid.UUID) []byte        { return []byte("cred:" + id.String()) }
func chatKey(id uuid.UUID) []byte        { return []byte("chat:" + id.String()) }
func seqKey(chatID uuid.UUID) []byte     { return []byte("seq:" + chatID.String()) }
func msgIDKey(id uuid.UUID) []byte       { return []byte("msgid:" + id.String()) }
func msgPrefix(chatID uuid.UUID) []byte  { return []byte("msg:" + chatID.String() + ":") }
func memberPrefix(chatID uuid.UUID) []byte {
	return []byte("member:" + chatID.String() + ":")
}

func memberKey(chatID, agentID uuid.UUID) []byte {
	return []byte("member:" + chatID.String() + ":" + agentID.String())
}

func agentChatPrefix(agentID uuid.UUID) []byte {
	return []byte("agentchat:" + agentID.String() + ":")
}

func agentChatKey(agentID, chatID uuid.UUID) []byte {
	return []byte("agentchat:" + agentID.String() + ":" + chatID.String())
}

func msgKey(chatID uuid.UUID, seq uint64) []byte {
	return []byte(fmt.Sprintf("msg:%s:"+seqDigits, chatID, seq))
}
