package cache

import "fmt"

// presence:board:{key} is a zset of identities scored by expireAt (unix seconds).
func boardKey(board string) string { return fmt.Sprintf("presence:board:%s", board) }

// presence:names:{key} maps identity to display name and color.
func namesKey(board string) string { return fmt.Sprintf("presence:names:%s", board) }

func cursorKey(board, identity string) string {
	return fmt.Sprintf("presence:cursor:%s:%s", board, identity)
}

const boardKeyPattern = "presence:board:*"
