package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/licensectl/internal/service"
	"github.com/kiranshivaraju/licensectl/pkg/listquery"
	"github.com/kiranshivaraju/licensectl/pkg/models"
	"github.com/spf13/cobra"
)

func licensesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "licenses",
		Aliases: []string{"license", "lic"},
		Short:   "Manage licenses",
	}
	cmd.AddCommand(
		licensesListCmd(),
		licensesBrowseCmd(),
		licensesCreateCmd(),
		licensesUpdateCmd(),
		licensesStatusCmd(),
		licensesRevokeCmd(),
	)
	return cmd
}

func licensesListCmd() *cobra.Command {
	var (
		page         int
		size         int
		sortBy       string
		order        string
		status       string
		email        string
		product      string
		licenseType  string
		outputFormat string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List one page of licenses",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd)
			if size == 0 {
				size = app.Config.List.PageSize
			}
			if page < 1 {
				return fmt.Errorf("--page must be at least 1, got %d", page)
			}

			st := listquery.NewState(size)
			st.PageIndex = page - 1
			if sortBy != "" {
				st.SortColumn = sortBy
				st.SortDirection = listquery.Direction(strings.ToUpper(order))
			}
			if status != "" {
				s, err := models.ParseLicenseStatus(status)
				if err != nil {
					return err
				}
				st.Filters[listquery.FilterStatus] = string(s)
			}
			st.Filters[listquery.FilterEmail] = email
			st.Filters[listquery.FilterProductName] = product
			st.Filters[listquery.FilterType] = licenseType
			if err := st.Validate(); err != nil {
				return err
			}

			result, err := app.Services.Licenses.List(cmd.Context(), listquery.Build(st))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch outputFormat {
			case "table", "":
				writeLicenses(out, result.Licenses, false)
				writePageFooter(out, st, result.TotalCount, listquery.PageCount(result.TotalCount, st.PageSize, true))
				return nil
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			default:
				return fmt.Errorf(`unknown output format %q, only "table" and "json" are supported`, outputFormat)
			}
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page number, starting at 1")
	cmd.Flags().IntVar(&size, "size", 0, "Rows per page (defaults to list.page_size)")
	cmd.Flags().StringVar(&sortBy, "sort", "", "Sort column: "+strings.Join(listquery.SortColumns, ", "))
	cmd.Flags().StringVar(&order, "order", "asc", "Sort order: asc or desc")
	cmd.Flags().StringVar(&status, "status", "", "Only licenses with this status")
	cmd.Flags().StringVar(&email, "email", "", "Only licenses whose customer email contains this text")
	cmd.Flags().StringVar(&product, "product", "", "Only licenses whose product name contains this text")
	cmd.Flags().StringVar(&licenseType, "type", "", "Only licenses of this type")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table or json")
	return cmd
}

// licenseFlags binds the license form to command flags. Flag names double
// as form field names through formField.
type licenseFlags struct {
	form    service.LicenseForm
	expires string
}

var formField = map[string]string{
	"type":     "type",
	"product":  "product_name",
	"customer": "customer_name",
	"email":    "customer_email",
	"metadata": "metadata",
	"expires":  "expires_at",
}

func (f *licenseFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.form.Type, "type", "", "License type")
	cmd.Flags().StringVar(&f.form.ProductName, "product", "", "Product name")
	cmd.Flags().StringVar(&f.form.CustomerName, "customer", "", "Customer name")
	cmd.Flags().StringVar(&f.form.CustomerEmail, "email", "", "Customer email")
	cmd.Flags().StringVar(&f.form.Metadata, "metadata", "", "Metadata as a JSON document")
	cmd.Flags().StringVar(&f.expires, "expires", "", "Expiry as RFC 3339 or YYYY-MM-DD")
}

func (f *licenseFlags) parse() (service.LicenseForm, error) {
	form := f.form
	if f.expires != "" {
		t, err := parseTime(f.expires)
		if err != nil {
			return form, err
		}
		form.ExpiresAt = &t
	}
	return form, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

func licensesCreateCmd() *cobra.Command {
	var flags licenseFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a license",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := flags.parse()
			if err != nil {
				return err
			}
			lic, err := appFrom(cmd).Services.Licenses.Create(cmd.Context(), form)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "License created.")
			writeLicense(cmd.OutOrStdout(), *lic)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func licensesUpdateCmd() *cobra.Command {
	var flags licenseFlags

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change license fields; pass an empty value to clear an optional field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := flags.parse()
			if err != nil {
				return err
			}

			var fields []string
			for flag, field := range formField {
				if cmd.Flags().Changed(flag) {
					fields = append(fields, field)
				}
			}
			req, err := service.LicensePatch(form, fields...)
			if err != nil {
				return err
			}

			lic, err := appFrom(cmd).Services.Licenses.Update(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "License updated.")
			writeLicense(cmd.OutOrStdout(), *lic)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func licensesStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status ID STATUS",
		Short: "Change the status of a license",
		Long:  "Change the status of a license. STATUS is one of: active, inactive, pending, expired, revoked.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := models.ParseLicenseStatus(args[1])
			if err != nil {
				return err
			}
			if err := appFrom(cmd).Services.Licenses.ChangeStatus(cmd.Context(), args[0], status); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "License %s is now %s.\n", args[0], statusText(status))
			return nil
		},
	}
}

func licensesRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke ID",
		Short: "Revoke a license",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appFrom(cmd).Services.Licenses.Revoke(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "License %s revoked.\n", args[0])
			return nil
		},
	}
}
