// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理任务、工作流与追踪表的 Schema 版本，基于 golang-migrate。

# 概述

每种方言（postgres、mysql、sqlite）各有一组内嵌 SQL 脚本，
文件名形如 000001_create_tasks.up.sql。服务启动时可以选择
GORM AutoMigrate，生产部署则通过 `agentrelay migrate` 子命令
显式执行这些脚本。

# 核心类型

  - Migrator：封装 migrate.Migrate，提供 Up/Down/Reset/Steps/Goto/
    Force/Version/Status/Info。阻塞操作接受 context，取消时在当前脚本
    结束后停止。
  - Dialect：方言，ParseDialect 接受 pg、mariadb、sqlite-pure 等别名。
  - CLI：面向终端的格式化输出。
  - NewMigratorFromConfig / BuildURL：从 config.DatabaseConfig 构建连接。
*/
package migration
