package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/MDrooker/rna-stat-manager/internal/service"
)

var (
	amount    int64
	ttlRaw    string
	atomicTTL bool
	asJSON    bool

	getCmd = &cobra.Command{
		Use:   "get [type] [name]",
		Short: "Reads a counter",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			id, err := identityFromFlags(args[0], args[1])
			if err != nil {
				return err
			}
			key := s.svc.Keys().Resolve(id)
			if asJSON {
				rec, found, err := s.svc.Counters.GetRecord(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintf(cmd.OutOrStdout(), "key=%s, found=false\n", key)
					return nil
				}
				out, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "key=%s, found=true, record=%s\n", key, out)
				return nil
			}

			v, found, err := s.svc.Counters.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key=%s, found=%v, value=%d\n", key, found, v)
			return nil
		}),
	}

	incrCmd = &cobra.Command{
		Use:   "incr [type] [name]",
		Short: "Increments a counter",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			id, err := identityFromFlags(args[0], args[1])
			if err != nil {
				return err
			}
			opts, err := arithOptions()
			if err != nil {
				return err
			}
			op := s.svc.Counters.Increment(id, opts...)
			return printArith(cmd, op)
		}),
	}

	decrCmd = &cobra.Command{
		Use:   "decr [type] [name]",
		Short: "Decrements a counter",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			id, err := identityFromFlags(args[0], args[1])
			if err != nil {
				return err
			}
			opts, err := arithOptions()
			if err != nil {
				return err
			}
			op := s.svc.Counters.Decrement(id, opts...)
			return printArith(cmd, op)
		}),
	}

	setCmd = &cobra.Command{
		Use:   "set [type] [name] [value]",
		Short: "Overwrites a counter; with --json the value is stored as an enveloped document",
		Args:  cobra.ExactArgs(3),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			id, err := identityFromFlags(args[0], args[1])
			if err != nil {
				return err
			}
			ttl, err := parseTTL(ttlRaw)
			if err != nil {
				return err
			}

			var value interface{} = args[2]
			if asJSON {
				var doc interface{}
				if err := json.Unmarshal([]byte(args[2]), &doc); err != nil {
					return fmt.Errorf("value is not valid JSON: %w", err)
				}
				value = doc
			} else if n, err := strconv.ParseInt(args[2], 10, 64); err == nil {
				value = n
			}

			ack, err := s.svc.Counters.Set(id, value, service.WithTTL(ttl)).Await(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "set %s successfully\n", ack.Key)
			return nil
		}),
	}

	delCmd = &cobra.Command{
		Use:   "del [type] [name]",
		Short: "Deletes a counter",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			id, err := identityFromFlags(args[0], args[1])
			if err != nil {
				return err
			}
			op := s.svc.Counters.Delete(id)
			n, err := op.Await(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key=%s, deleted=%d\n", op.Key(), n)
			return nil
		}),
	}

	ttlCmd = &cobra.Command{
		Use:   "ttl [type] [name]",
		Short: "Shows the remaining expiry of a counter",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			id, err := identityFromFlags(args[0], args[1])
			if err != nil {
				return err
			}
			d, found, err := s.svc.Counters.TTL(cmd.Context(), id)
			if err != nil {
				return err
			}
			key := s.svc.Keys().Resolve(id)
			switch {
			case !found:
				fmt.Fprintf(cmd.OutOrStdout(), "key=%s, found=false\n", key)
			case d < 0:
				fmt.Fprintf(cmd.OutOrStdout(), "key=%s, ttl=none\n", key)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "key=%s, ttl=%s\n", key, d)
			}
			return nil
		}),
	}

	hincrCmd = &cobra.Command{
		Use:   "hincr [type] [name] [field]",
		Short: "Increments one field of a hash counter; a negative --by decrements",
		Args:  cobra.ExactArgs(3),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			id, err := identityFromFlags(args[0], args[1])
			if err != nil {
				return err
			}
			opts, err := arithOptions()
			if err != nil {
				return err
			}
			op := s.svc.Hashes.IncrementField(id, args[2], opts...)
			return printArith(cmd, op)
		}),
	}

	hgetallCmd = &cobra.Command{
		Use:   "hgetall [type] [name]",
		Short: "Reads every field of a hash counter",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			id, err := identityFromFlags(args[0], args[1])
			if err != nil {
				return err
			}
			fields, err := s.svc.Hashes.ReadAllFields(cmd.Context(), id)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(fields))
			for f := range fields {
				names = append(names, f)
			}
			sort.Strings(names)
			for _, f := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%d\n", f, fields[f])
			}
			return nil
		}),
	}
)

func init() {
	addIdentityFlags(getCmd, incrCmd, decrCmd, setCmd, delCmd, ttlCmd, hincrCmd, hgetallCmd)

	for _, c := range []*cobra.Command{incrCmd, decrCmd, hincrCmd} {
		c.Flags().Int64Var(&amount, "by", 1, "amount to add or subtract")
		c.Flags().BoolVar(&atomicTTL, "atomic", false, "set the expiry in the same MULTI/EXEC as the update")
	}
	for _, c := range []*cobra.Command{incrCmd, decrCmd, hincrCmd, setCmd} {
		c.Flags().StringVar(&ttlRaw, "ttl", "", "expiry such as 30s or 5m; empty for none")
	}
	getCmd.Flags().BoolVar(&asJSON, "json", false, "print the stored record as JSON")
	setCmd.Flags().BoolVar(&asJSON, "json", false, "store the value as an enveloped JSON document")
}

func arithOptions() ([]service.OpOption, error) {
	ttl, err := parseTTL(ttlRaw)
	if err != nil {
		return nil, err
	}
	opts := []service.OpOption{service.By(amount), service.WithTTL(ttl)}
	if atomicTTL {
		opts = append(opts, service.AtomicExpiry())
	}
	return opts, nil
}

func printArith(cmd *cobra.Command, op *service.Op[int64]) error {
	v, err := op.Await(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "key=%s, value=%d\n", op.Key(), v)
	return nil
}
