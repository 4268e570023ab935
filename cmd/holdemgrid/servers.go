package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/lox/holdemgrid/internal/routing"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	statusStyles = map[routing.Status]lipgloss.Style{
		routing.StatusOnline:      cellStyle.Foreground(lipgloss.Color("10")),
		routing.StatusOverloaded:  cellStyle.Foreground(lipgloss.Color("11")),
		routing.StatusMaintenance: cellStyle.Foreground(lipgloss.Color("12")),
		routing.StatusOffline:     cellStyle.Foreground(lipgloss.Color("9")),
	}
)

// ServersCmd prints the router's view of the workers.
type ServersCmd struct {
	Router  string        `kong:"default='http://localhost:9090',env='ROUTER_ADDR',help='Router base URL'"`
	Timeout time.Duration `kong:"default='5s',help='Request timeout'"`
	Player  string        `kong:"help='Also show where this player would be routed'"`
	Region  string        `kong:"help='Region to route the player in'"`
}

func (c *ServersCmd) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	client := routing.NewClient(c.Router, &http.Client{Timeout: c.Timeout})
	servers, err := client.Servers(ctx)
	if err != nil {
		return fmt.Errorf("listing servers: %w", err)
	}
	renderServers(os.Stdout, servers)

	if c.Player == "" {
		return nil
	}
	best, err := client.Route(ctx, c.Player, routing.Criteria{Region: c.Region})
	if err != nil {
		return fmt.Errorf("routing %s: %w", c.Player, err)
	}
	_, err = fmt.Fprintf(os.Stdout, "\n%s -> %s (%s)\n", c.Player, best.ID, best.Address)
	return err
}

func renderServers(w io.Writer, servers []routing.ServerInfo) {
	if len(servers) == 0 {
		_, _ = fmt.Fprintln(w, "No servers registered")
		return
	}

	rows := make([][]string, 0, len(servers))
	for _, s := range servers {
		free := "unlimited"
		if n := s.FreeTables(); n >= 0 {
			free = strconv.Itoa(n)
		}
		rows = append(rows, []string{
			s.ID,
			s.Status.String(),
			s.Address,
			s.Region,
			strconv.Itoa(s.Metrics.Tables),
			free,
			strconv.Itoa(s.Metrics.Players),
			fmt.Sprintf("%.0f%%", s.Metrics.CPU*100),
			s.LastHeartbeat.Format(time.RFC3339),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "STATUS", "ADDRESS", "REGION", "TABLES", "FREE", "PLAYERS", "CPU", "LAST HEARTBEAT").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(servers) {
				if style, ok := statusStyles[servers[row].Status]; ok {
					return style
				}
			}
			return cellStyle
		})

	_, _ = fmt.Fprintln(w, t.Render())
}
