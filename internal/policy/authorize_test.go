package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorizeCommand(t *testing.T) {
	assert.True(t, AuthorizeCommand(CommandSender{FromSelf: false}, false))
	assert.False(t, AuthorizeCommand(CommandSender{FromSelf: false}, true))
	assert.True(t, AuthorizeCommand(CommandSender{FromSelf: true}, true))
	assert.False(t, AuthorizeCommand(CommandSender{FromSelf: true, Forwarded: true}, false))
}

func TestMatchCommand(t *testing.T) {
	assert.True(t, MatchCommand(".join", ".join"))
	assert.True(t, MatchCommand("  .join\n", ".join"))
	assert.False(t, MatchCommand(".join now", ".join"))
	assert.False(t, MatchCommand(".joint", ".join"))
	assert.False(t, MatchCommand("", ""))
}

func TestLooksLikeCommand(t *testing.T) {
	assert.True(t, LooksLikeCommand(".join please", ".join", ".leave"))
	assert.True(t, LooksLikeCommand(".leave", ".join", ".leave"))
	assert.False(t, LooksLikeCommand("join the call", ".join"))
}
