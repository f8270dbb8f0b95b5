package protocol

import "strings"

// Control-plane command and notification vocabulary. Commands flow
// client -> server, the rest server -> client. All of them travel as
// plain strings in KindControl frames.
const (
	// CmdRegister registers an identity: USERLIST:<name>.
	CmdRegister = "USERLIST:"
	// CmdPrivateChat requests pairing: PRIVATE_CHAT:<name>:<pairKey>.
	CmdPrivateChat = "PRIVATE_CHAT:"
	// CmdRequestUserList asks for a fresh roster broadcast.
	CmdRequestUserList = "REQUEST_USERLIST"
	// CmdDisconnect announces an orderly departure: DISCONNECT:<name>.
	CmdDisconnect = "DISCONNECT:"

	RespNameAccepted = "USERNAME_ACCEPTED"
	RespNameTaken    = "USERNAME_TAKEN"
	// RespWaiting may carry the pair key: WAITING_FOR_PEER[:pairKey].
	RespWaiting = "WAITING_FOR_PEER"

	// NotifyPeerConnected is PEER_CONNECTED:<peer>:<pairKey>.
	NotifyPeerConnected = "PEER_CONNECTED:"
	// NotifyPeerDisconnected is PEER_DISCONNECTED:<peer>.
	NotifyPeerDisconnected = "PEER_DISCONNECTED:"
	// NotifyUserList is USERLIST:<comma-separated names>; it shares the
	// USERLIST: prefix with CmdRegister but flows the other way.
	NotifyUserList = "USERLIST:"
	// NotifyConnect is CONNECT:<name>.
	NotifyConnect = "CONNECT:"
	// NotifyDisconnect is DISCONNECT:<name>; it shares its prefix with
	// CmdDisconnect but flows server -> client.
	NotifyDisconnect = "DISCONNECT:"

	PrefixError  = "ERROR:"
	PrefixServer = "SERVER:"
	PrefixInfo   = "INFO:"
)

// FoldName normalizes an identity for uniqueness checks. Display forms
// keep their original case.
func FoldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SplitPrivateChat parses PRIVATE_CHAT:<name>:<pairKey>.
func SplitPrivateChat(cmd string) (name, pairKey string, ok bool) {
	rest, found := strings.CutPrefix(cmd, CmdPrivateChat)
	if !found {
		return "", "", false
	}
	name, pairKey, ok = strings.Cut(rest, ":")
	if !ok || name == "" || pairKey == "" {
		return "", "", false
	}
	return name, pairKey, true
}

// SplitPeerConnected parses PEER_CONNECTED:<peer>:<pairKey>.
func SplitPeerConnected(s string) (peer, pairKey string, ok bool) {
	rest, found := strings.CutPrefix(s, NotifyPeerConnected)
	if !found {
		return "", "", false
	}
	peer, pairKey, ok = strings.Cut(rest, ":")
	if !ok || peer == "" {
		return "", "", false
	}
	return peer, pairKey, true
}

// SplitUserList parses USERLIST:<comma-separated names> into the roster.
// An empty list yields a nil slice.
func SplitUserList(s string) ([]string, bool) {
	rest, found := strings.CutPrefix(s, NotifyUserList)
	if !found {
		return nil, false
	}
	if rest == "" {
		return nil, true
	}
	names := strings.Split(rest, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	return names, true
}

// JoinUserList formats a roster for broadcast.
func JoinUserList(names []string) string {
	return NotifyUserList + strings.Join(names, ",")
}
