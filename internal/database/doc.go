// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开 GORM 连接并管理连接池。

# 概述

Open 根据 config.DatabaseConfig 选择方言（postgres、mysql、sqlite、
sqlite-pure），随后交给 PoolManager 统一配置连接池。PoolManager 在后台
定时探活并记录结果，/health 的 database 检查通过 Check 读取最近结果；
两次探测之间出现连接等待时记录连接池饱和告警。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB、Ping、Check、Stats、Close。
  - PoolConfig：连接池配置，Validate 检查连接数上下限。
  - PoolStats：sql.DBStats 的精简视图。
*/
package database
