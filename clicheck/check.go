// Package clicheck provides the `check` command that asks a running keeper
// for the worker state through the service socket.
package clicheck

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/lancer-kit/keeper"
	"github.com/lancer-kit/keeper/socket"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Exit codes of the check command.
const (
	ExitCodeError      = 1
	ExitCodeNotRunning = 7
)

const detailsFlag = "details"

// CliCheckCommand returns `cli.Command`, which allows you to check the health of a running instance
// with the service socket enabled. `socketPath` resolves the socket from the command context.
func CliCheckCommand(socketPath func(c *cli.Context) string) cli.Command {
	return cli.Command{
		Name:  "check",
		Usage: "receives information about the status of a running service through an open service socket",
		Action: func(c *cli.Context) error {
			client := socket.NewClient(socketPath(c))
			return Check(client, c.Bool(detailsFlag), c.App.Writer)
		},

		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  detailsFlag + ", d",
				Usage: "if true, then prints the detailed table to the stdout, otherwise the output will be empty",
			},
		},
	}
}

// Check requests the status and returns `cli.ExitError` with the `ExitCodeNotRunning`
// if the worker is not Running.
func Check(client *socket.Client, details bool, out io.Writer) error {
	resp, err := client.Send(socket.Request{Action: keeper.StatusAction})
	if err != nil {
		return cli.NewExitError(err.Error(), ExitCodeError)
	}

	if resp.Status != socket.StatusOk {
		return cli.NewExitError(resp.Error, ExitCodeError)
	}

	stateInfo, err := keeper.ParseStateInfo(resp.Data)
	if err != nil {
		return cli.NewExitError("invalid response:"+err.Error(), ExitCodeError)
	}

	if details {
		if err := RenderStateInfo(out, stateInfo); err != nil {
			return cli.NewExitError(err.Error(), ExitCodeError)
		}
	}

	if !stateInfo.IsRunning() {
		return cli.NewExitError(fmt.Sprintf("%s is not active: %s", stateInfo.Worker, stateInfo.State), ExitCodeNotRunning)
	}
	return nil
}

// RenderStateInfo writes the StateInfo as a two-column table.
func RenderStateInfo(out io.Writer, info *keeper.StateInfo) error {
	table := tablewriter.NewWriter(out)
	table.Header("Property", "Value")

	rows := [][]string{
		{"App", info.App.Name},
		{"Version", info.App.Version},
		{"Worker", info.Worker},
		{"State", string(info.State)},
		{"Restarts", strconv.Itoa(info.Restarts)},
	}
	if info.Handle != nil {
		rows = append(rows,
			[]string{"Handle", info.Handle.ID},
			[]string{"Attempt", strconv.Itoa(info.Handle.Attempt)},
			[]string{"Uptime", info.Handle.Uptime().Truncate(time.Second).String()},
		)
	}
	if info.Error != "" {
		rows = append(rows, []string{"Error", info.Error})
	}

	keys := make([]string, 0, len(info.Stats))
	for k := range info.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		value, err := json.Marshal(info.Stats[k])
		if err != nil {
			return errors.Wrapf(err, "unable to format %s", k)
		}
		rows = append(rows, []string{k, string(value)})
	}

	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
