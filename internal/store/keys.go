package store

import "fmt"

// Key layout. Operation keys embed a zero-padded sequence number so a
// forward prefix scan yields operations in ascending sequence order.
//
//	sess:<session-id>                 session record (JSON)
//	sess:<session-id>:op:<seq %020d>  one logged operation (JSON)
//	bcast:<broadcast-id>              broadcast -> session id index

func sessionKey(sessionID string) []byte {
	return []byte("sess:" + sessionID)
}

func broadcastKey(broadcastID string) []byte {
	return []byte("bcast:" + broadcastID)
}

func opPrefix(sessionID string) []byte {
	return []byte("sess:" + sessionID + ":op:")
}

func opKey(sessionID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("sess:%s:op:%020d", sessionID, seq))
}
