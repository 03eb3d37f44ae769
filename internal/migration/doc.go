// Copyright (c) HumanLoop Authors.
// Licensed under the MIT License.

/*
包 migration 管理任务同步 SQL 后端的表结构，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

迁移文件通过 embed.FS 内嵌在 migrations/<dialect>/ 目录下，
创建 humanloop_tasks 与 humanloop_requests 两张表。SQLite 使用
modernc.org/sqlite 注册的 "sqlite" 驱动，无需 CGO。

  - Migrator / DefaultMigrator：Up、Down、Steps、Goto、Force、Status、Info。
  - NewMigratorFromDatabaseConfig：从 config.DatabaseConfig 创建迁移器。
  - CLI：`humanloop migrate` 子命令的输出层。
*/
package migration
