//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package tevent

import (
	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/tevent/metrics"
)

// usrPool backs Submit. The reactor itself never schedules callback
// work onto a pool — spec.md §1 is explicit that the core only
// activates callbacks and does not own user work — but a callback that
// wants to hand off CPU-bound or blocking work without stalling the
// loop thread needs somewhere safe to put it, the same role
// trpc-go/tnet's usrPool plays for connection handlers.
var usrPool, _ = ants.NewPool(0) // 0 means no limit on goroutine count.

// Submit submits a task to the default user goroutine pool. Intended
// for callbacks that need to do blocking or CPU-bound work without
// delaying the next backend dispatch.
func Submit(task func()) error {
	metrics.Add(metrics.TaskAssigned, 1)
	return usrPool.Submit(task)
}
