package main

import (
	"bytes"
	"context"
	"net/mail"
	"os"
	"path"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/JoeMarian/bluedropwithvps/core"
	exportsvc "github.com/JoeMarian/bluedropwithvps/services/export"
)

const csvContentType = "text/csv"

type exportOptions struct {
	dashboardID string
	output      string // file path or s3://bucket/key
	fields      []string
	start, end  string // RFC 3339
	emailTo     string
}

func (cli *commandLine) exportCmd() *cobra.Command {
	var opts exportOptions
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a dashboard's data points as CSV",
		Long: `Export a dashboard's data points as CSV, to a file or to object storage when the output is s3://bucket/key.
With --email, the CSV is also sent to that address as an attachment.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			location, err := cli.export(opts)
			if err != nil {
				return err
			}
			cli.printf("exported to %s\n", location)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.dashboardID, "dashboard", "d", "", "the dashboard ID")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "a file path or s3://bucket/key")
	cmd.Flags().StringSliceVarP(&opts.fields, "fields", "f", nil, "the fields to export (default: all)")
	cmd.Flags().StringVar(&opts.start, "start", "", "export points from this RFC 3339 time")
	cmd.Flags().StringVar(&opts.end, "end", "", "export points up to this RFC 3339 time (default: now)")
	cmd.Flags().StringVar(&opts.emailTo, "email", "", "also email the CSV to this address")
	_ = cmd.MarkFlagRequired("dashboard")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	return t, errors.Wrapf(err, "--%s", name)
}

// export writes the CSV to opts.output and returns where it ended up.
func (cli *commandLine) export(opts exportOptions) (string, error) {
	ctx := context.Background()

	start, err := parseTimeFlag("start", opts.start)
	if err != nil {
		return "", err
	}
	end, err := parseTimeFlag("end", opts.end)
	if err != nil {
		return "", err
	}
	var to *mail.Address
	if opts.emailTo != "" {
		if to, err = mail.ParseAddress(opts.emailTo); err != nil {
			return "", errors.Wrap(err, "--email")
		}
	}

	d, err := cli.dashSvc.GetByID(ctx, opts.dashboardID)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err = cli.dashSvc.Export(ctx, d, opts.fields, start, end, &buf); err != nil {
		return "", err
	}

	location := opts.output
	if exportsvc.IsRemote(opts.output) {
		bucket, key, err := exportsvc.ParseTarget(opts.output)
		if err != nil {
			return "", err
		}
		store, err := newExportStoreFunc(cli.conf)
		if err != nil {
			return "", err
		}
		if location, err = store.Put(ctx, bucket, key, buf.Bytes(), csvContentType); err != nil {
			return "", err
		}
	} else if err = os.WriteFile(opts.output, buf.Bytes(), 0o644); err != nil {
		return "", errors.Wrapf(err, "writing %s", opts.output)
	}

	if to != nil {
		msg := &core.EmailMessage{
			To:      []mail.Address{*to},
			Subject: "Data export: " + d.Name,
			BodyStr: "The data of dashboard " + d.Name + " is attached.\r\nIt is also available at " + location + ".",
		}
		if err = msg.Attach(bytes.NewReader(buf.Bytes()), path.Base(opts.output), csvContentType); err != nil {
			return "", err
		}
		cli.mailSvc.SendMessages(msg)
	}
	return location, nil
}
