package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI 为 migrate 子命令格式化输出
type CLI struct {
	m   *Migrator
	out io.Writer
}

// NewCLI 默认输出到 stdout
func NewCLI(m *Migrator) *CLI {
	return &CLI{m: m, out: os.Stdout}
}

// SetOutput 替换输出目标
func (c *CLI) SetOutput(w io.Writer) {
	c.out = w
}

// RunUp 应用全部待执行迁移
func (c *CLI) RunUp(ctx context.Context) error {
	fmt.Fprintln(c.out, "Applying migrations...")
	if err := c.m.Up(ctx); err != nil {
		return err
	}
	return c.printVersion("Schema is up to date")
}

// RunDown 回滚一步
func (c *CLI) RunDown(ctx context.Context) error {
	fmt.Fprintln(c.out, "Rolling back last migration...")
	if err := c.m.Down(ctx); err != nil {
		return err
	}
	return c.printVersion("Rollback complete")
}

// RunReset 回滚全部迁移
func (c *CLI) RunReset(ctx context.Context) error {
	fmt.Fprintln(c.out, "Rolling back all migrations...")
	if err := c.m.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "All migrations rolled back")
	return nil
}

// RunGoto 迁移到指定版本
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	fmt.Fprintf(c.out, "Migrating to version %d...\n", version)
	if err := c.m.Goto(ctx, version); err != nil {
		return err
	}
	return c.printVersion("Migration complete")
}

// RunForce 修复 dirty 状态
func (c *CLI) RunForce(version int) error {
	if err := c.m.Force(version); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Version forced to %d\n", version)
	return nil
}

// RunVersion 打印当前版本
func (c *CLI) RunVersion() error {
	v, dirty, err := c.m.Version()
	if err != nil {
		return err
	}
	if v == 0 {
		fmt.Fprintln(c.out, "No migrations applied yet.")
		return nil
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	fmt.Fprintf(c.out, "Current version: %d%s\n", v, suffix)
	return nil
}

// RunStatus 以表格列出每个脚本
func (c *CLI) RunStatus() error {
	statuses, err := c.m.Status()
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	applied := 0
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\nTotal: %d, Applied: %d, Pending: %d\n", len(statuses), applied, len(statuses)-applied)
	return nil
}

func (c *CLI) printVersion(prefix string) error {
	v, dirty, err := c.m.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s. Current version: %d", prefix, v)
	if dirty {
		fmt.Fprint(c.out, " (dirty)")
	}
	fmt.Fprintln(c.out)
	return nil
}
