// Copyright (c) HumanLoop Authors.
// Licensed under the MIT License.

/*
Package manager 是人机交互引擎的编排入口.

Manager 维护 provider 注册表 (含默认 provider)、任务到会话、会话到请求的
有序索引以及会话与 provider 的绑定关系。每个请求可以注册一个 Callback,
在请求进入终态时恰好收到一次通知:

  - OnUpdate: APPROVED / REJECTED / COMPLETED / CANCELLED / ERROR
  - OnTimeout: 仍处于 PENDING 时超时
  - OnError: 前两者返回错误或 panic 时

超时由 timeout.Supervisor 驱动: PENDING 请求被过期, INPROGRESS 请求续期。
配置了 persistence.Sink 时, 请求结算、周期同步以及 Shutdown 都会把任务快照
推送到后端。

基本用法:

	m := manager.New(manager.WithLogger(logger))
	m.RegisterProvider(terminal.New("terminal"), "terminal")
	res, err := m.RequestAndWait(ctx, manager.RequestOptions{
		TaskID:         "deploy-42",
		ConversationID: "approve-prod",
		LoopType:       types.LoopTypeApproval,
		Context:        map[string]any{"message": "Deploy to production?"},
		Timeout:        5 * time.Minute,
	})
*/
package manager
