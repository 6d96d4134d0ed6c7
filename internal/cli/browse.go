package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/kiranshivaraju/licensectl/internal/listview"
	"github.com/kiranshivaraju/licensectl/internal/service"
	"github.com/kiranshivaraju/licensectl/pkg/listquery"
	"github.com/kiranshivaraju/licensectl/pkg/models"
	"github.com/spf13/cobra"
)

const browseHelp = `Commands:
  n, p                      next or previous page
  page N                    go to page N
  size N                    rows per page
  sort COLUMN [asc|desc]    sort, or cycle asc, desc, off without a direction
  status STATUS|all         filter by status
  email TEXT                filter by customer email (applied after typing stops)
  product TEXT, type TEXT   filter by product name or type
  reset                     clear filters and sort
  edit ROW field=value...   change type, product, customer, email, metadata or expires
  set ROW STATUS            change the status of a row
  revoke ROW                revoke a row
  refresh                   reload the page
  q                         quit`

var errQuit = errors.New("quit")

func licensesBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Page, sort and filter licenses interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd)
			ctrl := listview.New(listview.FromService(app.Services.Licenses), listview.Config{
				PageSize: app.Config.List.PageSize,
				Debounce: app.Config.List.Debounce,
				Clock:    app.Clock,
				Logger:   app.Log,
			})
			defer ctrl.Close()

			b := &browser{
				ctrl:     ctrl,
				licenses: app.Services.Licenses,
				out:      cmd.OutOrStdout(),
				errOut:   cmd.ErrOrStderr(),
			}
			return b.run(cmd.Context(), cmd.InOrStdin())
		},
	}
}

type browser struct {
	ctrl     *listview.Controller
	licenses *service.Licenses
	out      io.Writer
	errOut   io.Writer
	rows     []models.License
}

func (b *browser) run(ctx context.Context, in io.Reader) error {
	if err := b.show(ctx); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	for {
		_, _ = fmt.Fprint(b.errOut, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		err := b.exec(ctx, line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case service.IsSessionExpired(err):
			return err
		case err != nil:
			_, _ = fmt.Fprintln(b.errOut, color.RedString("Error:"), err.Error())
			continue
		}
		if err := b.show(ctx); err != nil {
			return err
		}
	}
}

// show waits for the controller to settle and renders the page.
func (b *browser) show(ctx context.Context) error {
	if v := b.ctrl.View(); v.Loading || v.PendingEmail != v.State.Filters[listquery.FilterEmail] {
		_, _ = fmt.Fprintln(b.errOut, "Loading...")
	}
	v, err := b.ctrl.Wait(ctx)
	if err != nil {
		return err
	}
	if v.Err != nil {
		if service.IsSessionExpired(v.Err) {
			return v.Err
		}
		_, _ = fmt.Fprintln(b.errOut, color.RedString("Error:"), v.Err.Error())
		return nil
	}

	b.rows = v.Rows
	writeLicenses(b.out, v.Rows, true)
	writePageFooter(b.out, v.State, v.Total, v.PageCount)
	if desc := describeState(v.State); desc != "" {
		_, _ = fmt.Fprintln(b.out, desc)
	}
	return nil
}

func describeState(st listquery.State) string {
	var parts []string
	for _, k := range listquery.FilterKeys {
		if v := st.Filters[k]; v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}
	if st.SortColumn != "" {
		parts = append(parts, fmt.Sprintf("sort=%s %s", st.SortColumn, strings.ToLower(string(st.SortDirection))))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Filters: " + strings.Join(parts, ", ")
}

func (b *browser) exec(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch strings.ToLower(cmd) {
	case "q", "quit", "exit":
		return errQuit
	case "help", "?":
		_, _ = fmt.Fprintln(b.out, browseHelp)
		return nil
	case "n", "next":
		if !b.ctrl.NextPage() {
			return errors.New("already on the last page")
		}
		return nil
	case "p", "prev":
		if !b.ctrl.PrevPage() {
			return errors.New("already on the first page")
		}
		return nil
	case "page":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		return b.ctrl.SetPageIndex(n - 1)
	case "size":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		return b.ctrl.SetPageSize(n)
	case "sort":
		switch len(args) {
		case 1:
			return b.ctrl.ToggleSort(args[0])
		case 2:
			return b.ctrl.SetSort(args[0], listquery.Direction(strings.ToUpper(args[1])))
		default:
			return errors.New("usage: sort COLUMN [asc|desc]")
		}
	case "status":
		if rest == "all" {
			rest = ""
		}
		return b.ctrl.SetFilter(listquery.FilterStatus, rest)
	case "email":
		return b.ctrl.TypeEmail(rest)
	case "product":
		return b.ctrl.SetFilter(listquery.FilterProductName, rest)
	case "type":
		return b.ctrl.SetFilter(listquery.FilterType, rest)
	case "reset":
		if err := b.ctrl.ClearFilters(); err != nil {
			return err
		}
		return b.ctrl.ClearSort()
	case "refresh":
		return b.ctrl.Refresh()
	case "edit":
		return b.edit(ctx, args)
	case "set":
		return b.setStatus(ctx, args)
	case "revoke":
		return b.revoke(ctx, args)
	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
}

func (b *browser) row(arg string) (models.License, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(b.rows) {
		return models.License{}, fmt.Errorf("no row %s on this page", arg)
	}
	return b.rows[n-1], nil
}

func (b *browser) edit(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: edit ROW field=value...")
	}
	lic, err := b.row(args[0])
	if err != nil {
		return err
	}

	form := service.FormFromLicense(lic)
	assignments, err := parseAssignments(args[1:])
	if err != nil {
		return err
	}
	for _, a := range assignments {
		if err := applyAssignment(&form, a[0], a[1]); err != nil {
			return err
		}
	}

	if _, err := b.licenses.Edit(ctx, lic, form); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(b.out, "License %s updated.\n", lic.LicenseKey)
	return b.ctrl.Refresh()
}

// parseAssignments reads field=value pairs. A word without "=" continues
// the previous value, so values may contain spaces.
func parseAssignments(words []string) ([][2]string, error) {
	var out [][2]string
	for _, w := range words {
		field, value, ok := strings.Cut(w, "=")
		if !ok {
			if len(out) == 0 {
				return nil, fmt.Errorf("expected field=value, got %q", w)
			}
			out[len(out)-1][1] += " " + w
			continue
		}
		out = append(out, [2]string{field, value})
	}
	return out, nil
}

func applyAssignment(form *service.LicenseForm, field, value string) error {
	switch field {
	case "type":
		form.Type = value
	case "product":
		form.ProductName = value
	case "customer":
		form.CustomerName = value
	case "email":
		form.CustomerEmail = value
	case "metadata":
		form.Metadata = value
	case "expires":
		if value == "" {
			form.ExpiresAt = nil
			return nil
		}
		t, err := parseTime(value)
		if err != nil {
			return err
		}
		form.ExpiresAt = &t
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}

func (b *browser) setStatus(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: set ROW STATUS")
	}
	lic, err := b.row(args[0])
	if err != nil {
		return err
	}
	status, err := models.ParseLicenseStatus(args[1])
	if err != nil {
		return err
	}
	if err := b.licenses.SetStatus(ctx, lic, status); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(b.out, "License %s is now %s.\n", lic.LicenseKey, statusText(status))
	return b.ctrl.Refresh()
}

func (b *browser) revoke(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: revoke ROW")
	}
	lic, err := b.row(args[0])
	if err != nil {
		return err
	}
	if err := b.licenses.Revoke(ctx, lic.ID); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(b.out, "License %s revoked.\n", lic.LicenseKey)
	return b.ctrl.Refresh()
}

func intArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("expected one number")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", args[0])
	}
	return n, nil
}
