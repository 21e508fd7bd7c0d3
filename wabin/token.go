package wabin

// Structural token bytes. Values at and above dictionary0 never index
// the single-byte table.
const (
	tokenListEmpty = 0
	dictionary0    = 236
	dictionary1    = 237
	dictionary2    = 238
	dictionary3    = 239
	tokenADJID     = 247
	tokenList8     = 248
	tokenList16    = 249
	tokenJIDPair   = 250
	tokenHex8      = 251
	tokenBinary8   = 252
	tokenBinary20  = 253
	tokenBinary32  = 254
	tokenNibble8   = 255
)

// packedMax is the longest string the nibble/hex packers accept: the
// length byte keeps seven bits for the rounded byte count.
const packedMax = 254

// singleByteTokens is the fixed primary dictionary. Index 0 is reserved
// (it collides with the empty-list marker) and indexes 1 and 2 carry the
// stream delimiters.
var singleByteTokens = [...]string{
	"", "xmlstreamstart", "xmlstreamend", "s.whatsapp.net", "type", "participant", "from", "receipt",
	"id", "notification", "disappearing_mode", "status", "jid", "broadcast", "user", "devices",
	"device_hash", "to", "offline", "message", "result", "class", "xmlns", "duplicate",
	"release", "error", "clear", "notify", "sender_pn", "category", "add", "t",
	"iq", "device_list", "verified_name", "ack", "handshake", "stream:error", "key", "business",
	"unavailable", "presence", "mode", "interactive", "device", "config", "picture", "chatstate",
	"composing", "value", "media", "state", "code", "revoke_invite", "contacts", "set",
	"get", "name", "subject", "count", "creation", "ephemeral", "identity", "item",
	"query", "remove", "update", "url", "usync", "verify", "version", "web",
	"success", "failure", "pair-device", "pair-success", "ref", "pair-device-sign", "device-identity", "platform",
	"biz", "smba", "true", "false", "available", "last", "groups", "invite",
	"urn:xmpp:ping", "ping", "pong", "encrypt", "decrypt", "registration", "skey", "sign",
	"list", "retry", "receipt-ack", "prop", "props", "passive", "active",
	"w:profile:picture", "w:p", "w:stats", "w:sync:app:state", "w:m", "w:gp2", "w:g2", "w:biz",
	"md", "pn", "lid", "index", "background", "delete", "edit", "hash",
	"call", "offer", "accept", "reject", "terminate", "relaylatency", "enc", "pkmsg",
	"msg", "skmsg", "call-creator", "call-id", "pre-key", "session", "sender-key", "peer",
	"priority", "read", "played", "inactive", "delivery", "stream:features", "features", "dirty",
	"clean", "timestamp", "expiration", "before", "after", "order", "filter", "total",
	"invis", "mute", "dhash", "archive", "pin", "star", "keep", "unkeep",
	"collection", "patch", "snapshot", "attrs", "record", "target", "fallback", "fail",
	"original", "reason", "pair", "multicast", "contact", "blocklist", "block", "unblock",
	"privacy", "readreceipts", "groupadd", "profile", "online", "disable", "default", "all",
	"media-conn", "host", "auth_ttl", "upload", "download", "hostname", "fbid", "rte",
	"tctoken", "expected_ts", "tokens", "crypto", "side_list", "recipient", "participants", "member_add_mode",
	"admin", "superadmin", "promote", "demote", "locked", "unlocked", "announcement", "not_announcement",
	"account", "signature", "tag", "challenge", "response", "companion", "waiting", "logout",
	"unarchive_chats", "abt", "appdata", "notice", "frequently_forwarded", "attestation", "direct_connection", "payload",
	"encopt", "regular", "critical_block", "critical_unblock_low", "regular_high", "regular_low",
}

// doubleByteTokens carries the rarer strings behind the dictionary0..3
// selector bytes. Only the first dictionary is populated at this
// protocol revision; the rest stay reserved.
var doubleByteTokens = [4][]string{
	{
		"remove-companion-device", "companion_platform_id", "companion_platform_display", "link_code_companion_reg",
		"companion_server_auth_key_pub", "companion_enc_static", "companion_hello", "primary_identity_pub",
		"key-index-list", "device-list-versions", "advanced", "history_sync_notification",
		"app_state_sync_key_share", "app_state_sync_key_request", "app_state_fatal_exception_notification", "initial_security_notification",
		"regular_plus", "critical_high", "sync", "sync_add", "sync_remove", "full", "recent",
		"push_name_setting", "security_notification_setting", "unix_epoch_seconds",
	},
	{}, {}, {},
}

type tokenIndex struct {
	dict  int // -1 for single byte tokens
	index byte
}

var tokenLookup = make(map[string]tokenIndex, len(singleByteTokens)+32)

func init() {
	// Indexes 1 and 2 are stream delimiters, not usable as strings.
	for i, tok := range singleByteTokens {
		if i <= 2 || tok == "" {
			continue
		}
		tokenLookup[tok] = tokenIndex{dict: -1, index: byte(i)}
	}
	for dict, tokens := range doubleByteTokens {
		for i, tok := range tokens {
			if tok == "" {
				continue
			}
			if _, clash := tokenLookup[tok]; clash {
				continue
			}
			tokenLookup[tok] = tokenIndex{dict: dict, index: byte(i)}
		}
	}
}

// singleByteToken resolves a primary dictionary index.
func singleByteToken(i byte) (string, bool) {
	if int(i) >= len(singleByteTokens) || i == 0 {
		return "", false
	}
	tok := singleByteTokens[i]
	return tok, tok != ""
}

// doubleByteToken resolves a (dictionary, index) pair.
func doubleByteToken(dict, i byte) (string, bool) {
	if int(dict) >= len(doubleByteTokens) {
		return "", false
	}
	tokens := doubleByteTokens[dict]
	if int(i) >= len(tokens) {
		return "", false
	}
	return tokens[i], true
}
