package cache

import (
	"fmt"
	"strings"
)

// 频道语义：
// - updatesChannel(roomID): 房间更新扇出（Pub/Sub），消息体见 busMessage
// - updatesPattern:         订阅全部房间

const (
	keyUpdatesPrefix  = "room:updates:"
	keyUpdatesFmt     = keyUpdatesPrefix + "%s"
	keyUpdatesPattern = keyUpdatesPrefix + "*"
)

func updatesChannel(roomID string) string { return fmt.Sprintf(keyUpdatesFmt, roomID) }
func updatesPattern() string              { return keyUpdatesPattern }

// roomFromChannel 频道名不合法时返回空串
func roomFromChannel(channel string) string {
	room, ok := strings.CutPrefix(channel, keyUpdatesPrefix)
	if !ok {
		return ""
	}
	return room
}
