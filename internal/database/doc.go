// Copyright (c) HumanLoop Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库连接池管理，供 SQL 任务快照同步使用。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - Open：按 config.DatabaseConfig 选择 postgres / mysql / sqlite 方言，
    sqlite 走纯 Go 的 modernc 驱动。
  - 健康检查：后台定时 PingContext 探活，Close 时停止。
  - 事务管理：WithTransactionRetry 借助 internal/retry 对死锁、
    序列化失败与连接类错误做退避重试。
*/
package database
