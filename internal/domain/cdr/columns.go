// Package cdr describes the exportable columns of the cdr.cdr table.
package cdr

import (
	"sort"

	"github.com/webitel/cdr-exporter/internal/domain/model"
	"github.com/webitel/cdr-exporter/internal/errors"
)

const (
	Schema = "cdr"
	Table  = "cdr"

	// TimeStart is the partition key every export is ordered and bounded by.
	TimeStart = "time_start"
)

// catalog lists the exportable columns in table order. Normalized field
// lists follow this order whatever order the caller used.
var catalog = []string{
	"id",
	"customer_id",
	"vendor_id",
	"customer_acc_id",
	"customer_acc_external_id",
	"customer_auth_id",
	"customer_auth_external_id",
	"vendor_acc_id",
	"vendor_acc_external_id",
	"orig_gw_id",
	"term_gw_id",
	"node_id",
	"pop_id",
	"routing_plan_id",
	"routing_group_id",
	"rateplan_id",
	"destination_id",
	"destination_rate_policy_id",
	"dialpeer_id",
	"time_start",
	"time_connect",
	"time_end",
	"time_limit",
	"duration",
	"routing_delay",
	"pdd",
	"rtt",
	"early_media_present",
	"is_redirected",
	"is_last_cdr",
	"routing_attempt",
	"success",
	"profit",
	"lega_disconnect_code",
	"lega_disconnect_reason",
	"internal_disconnect_code",
	"internal_disconnect_reason",
	"legb_disconnect_code",
	"legb_disconnect_reason",
	"disconnect_initiator_id",
	"src_name_in",
	"src_prefix_in",
	"from_domain",
	"dst_prefix_in",
	"to_domain",
	"ruri_domain",
	"diversion_in",
	"src_prefix_routing",
	"dst_prefix_routing",
	"src_area_id",
	"dst_area_id",
	"lrn",
	"lnp_database_id",
	"src_name_out",
	"src_prefix_out",
	"dst_prefix_out",
	"diversion_out",
	"src_country_id",
	"src_network_id",
	"dst_country_id",
	"dst_network_id",
	"sign_orig_transport_protocol_id",
	"sign_orig_ip",
	"sign_orig_port",
	"sign_orig_local_ip",
	"sign_orig_local_port",
	"auth_orig_transport_protocol_id",
	"auth_orig_ip",
	"auth_orig_port",
	"sign_term_transport_protocol_id",
	"sign_term_ip",
	"sign_term_port",
	"sign_term_local_ip",
	"sign_term_local_port",
	"destination_prefix",
	"destination_fee",
	"destination_initial_interval",
	"destination_initial_rate",
	"destination_next_interval",
	"destination_next_rate",
	"customer_price",
	"dialpeer_prefix",
	"dialpeer_fee",
	"dialpeer_initial_interval",
	"dialpeer_initial_rate",
	"dialpeer_next_interval",
	"dialpeer_next_rate",
	"vendor_price",
	"orig_call_id",
	"term_call_id",
	"local_tag",
	"legb_local_tag",
	"lega_rx_payloads",
	"lega_tx_payloads",
	"legb_rx_payloads",
	"legb_tx_payloads",
	"lega_rx_bytes",
	"lega_tx_bytes",
	"legb_rx_bytes",
	"legb_tx_bytes",
	"lega_rx_decode_errs",
	"lega_rx_no_buf_errs",
	"lega_rx_parse_errs",
	"legb_rx_decode_errs",
	"legb_rx_no_buf_errs",
	"legb_rx_parse_errs",
	"p_charge_info_in",
	"failed_resource_type_id",
	"failed_resource_id",
	"routing_tag_ids",
	"uuid",
}

// Customer leg columns.
var customerTemplate = []string{
	"id",
	"time_start",
	"time_connect",
	"time_end",
	"duration",
	"success",
	"destination_initial_interval",
	"destination_initial_rate",
	"destination_next_interval",
	"destination_next_rate",
	"destination_fee",
	"customer_price",
	"src_name_in",
	"src_prefix_in",
	"from_domain",
	"dst_prefix_in",
	"to_domain",
	"ruri_domain",
	"diversion_in",
	"local_tag",
	"legb_local_tag",
	"lega_disconnect_code",
	"lega_disconnect_reason",
	"lega_rx_payloads",
	"lega_tx_payloads",
	"auth_orig_transport_protocol_id",
	"auth_orig_ip",
	"auth_orig_port",
	"lega_rx_bytes",
	"lega_tx_bytes",
	"lega_rx_decode_errs",
	"lega_rx_no_buf_errs",
	"lega_rx_parse_errs",
	"src_prefix_routing",
	"dst_prefix_routing",
	"destination_prefix",
	"p_charge_info_in",
}

// Vendor leg columns.
var vendorTemplate = []string{
	"id",
	"time_start",
	"time_connect",
	"time_end",
	"duration",
	"success",
	"dialpeer_fee",
	"dialpeer_initial_interval",
	"dialpeer_initial_rate",
	"dialpeer_next_interval",
	"dialpeer_next_rate",
	"dialpeer_prefix",
	"vendor_price",
	"src_prefix_out",
	"dst_prefix_out",
	"src_name_out",
	"diversion_out",
	"sign_term_transport_protocol_id",
	"sign_term_ip",
	"sign_term_port",
	"sign_term_local_ip",
	"sign_term_local_port",
	"local_tag",
	"legb_disconnect_code",
	"legb_disconnect_reason",
	"legb_rx_payloads",
	"legb_tx_payloads",
	"legb_rx_bytes",
	"legb_tx_bytes",
	"legb_rx_decode_errs",
	"legb_rx_no_buf_errs",
	"legb_rx_parse_errs",
	"pdd",
	"rtt",
	"early_media_present",
}

var (
	position  = make(map[string]int, len(catalog))
	templates = map[model.ExportKind]map[string]struct{}{}
)

func init() {
	for i, c := range catalog {
		position[c] = i
	}
	templates[model.ExportKindAll] = set(catalog)
	templates[model.ExportKindCustomer] = set(customerTemplate)
	templates[model.ExportKindVendor] = set(vendorTemplate)
}

func set(cols []string) map[string]struct{} {
	m := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if _, ok := position[c]; !ok {
			panic("cdr: template column " + c + " is not in the catalog")
		}
		m[c] = struct{}{}
	}
	return m
}

// Columns returns the whole catalog.
func Columns() []string {
	out := make([]string, len(catalog))
	copy(out, catalog)
	return out
}

// Template returns the columns allowed for kind, in catalog order.
func Template(kind model.ExportKind) []string {
	allowed, ok := templates[kind]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(allowed))
	for _, c := range catalog {
		if _, ok := allowed[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func Known(column string) bool {
	_, ok := position[column]
	return ok
}

// Normalize validates fields against the template of kind, drops duplicates
// and returns them in catalog order.
func Normalize(fields []string, kind model.ExportKind) ([]string, error) {
	allowed, ok := templates[kind]
	if !ok {
		return nil, errors.NewValidationError("export-kind", errors.ReasonInvalidValue, "unknown export kind "+string(kind))
	}
	if len(fields) == 0 {
		return nil, errors.NewValidationError("fields", errors.ReasonRequired, "fields can't be blank")
	}

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := allowed[f]; !ok {
			return nil, errors.NewValidationError("fields", errors.ReasonUnknownField, "unknown field "+f)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return position[out[i]] < position[out[j]] })
	return out, nil
}
