// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package notifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/tevent/internal/notifier"
)

func TestArmMakesFDReadableOnce(t *testing.T) {
	n, err := notifier.New()
	assert.NoError(t, err)
	defer n.Close()

	assert.NoError(t, n.Arm())
	assert.NoError(t, n.Arm()) // coalesced; must not write twice

	var buf [2]byte
	nr, err := unix.Read(n.FD(), buf[:])
	assert.NoError(t, err)
	assert.Equal(t, 1, nr)

	// Nothing further pending: a second read would block on a real pipe,
	// so instead confirm Drain is idempotent and Arm can fire again.
	n.Drain()
	assert.NoError(t, n.Arm())
}

func TestEventfdVariant(t *testing.T) {
	n, err := notifier.NewEventfd()
	assert.NoError(t, err)
	defer n.Close()

	assert.NoError(t, n.Arm())
	n.Drain()
	assert.NoError(t, n.Arm())
	n.Drain()
}
