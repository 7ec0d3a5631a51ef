package server

import "time"

const (
	ProtocolVersion = 1

	tickRate          = 60 // simulation ticks per second
	writeWait         = 10 * time.Second
	heartbeatInterval = 2 * time.Second
	disconnectAfter   = 3 * heartbeatInterval
	syncTimeout       = 10 * time.Second

	moveSpeed   = 5.0 // world units per second
	worldExtent = 120.0
	playerHalf  = 0.5

	playerMaxHealth = 100.0

	zombieContactRange = 1.2
	zombieBaseSpeed    = 2.2
	runnerSpeedBonus   = 1.8
	bruteSpeedPenalty  = 0.7
	bruteDamageBonus   = 2.5
	zombieBaseDamage   = 8.0
	zombieAttackPause  = 800 * time.Millisecond
	spitterRange       = 9.0

	salvagePerZombie = 5

	turretFireInterval = 250 * time.Millisecond

	commandCapacity     = 1024
	perPeerCommandLimit = 32
	queueWarningStep    = 256
	catchupMaxTicks     = 4

	eventOutboxSize    = 256
	snapshotOutboxSize = 4
)
