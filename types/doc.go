// Copyright (c) HumanLoop Authors.
// Licensed under the MIT License.

/*
Package types 提供 humanloop 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 provider、manager、
persistence 等上层模块提供统一的类型契约。

# 核心类型

  - LoopType         : 交互形态：approval / information / conversation
  - Status           : 请求状态机（pending、inprogress 与各终态）
  - RequestKey       : (conversation_id, request_id) 复合键
  - Request          : 单次人机请求记录
  - Conversation     : 绑定到单个 Provider 的有序请求列表
  - Result           : 返回给调用方的不可变快照
  - Error / ErrorCode: 结构化错误体系（配置错误等致命错误）
*/
package types
