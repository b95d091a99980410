package tool

import (
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
)

// Infos describes the two order tools to a tool-calling chat model.
func Infos() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: contractx.ToolOrderTracker,
			Desc: "Look up an order by id and return its date, status, items and whether the customer is premium.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"order_id": {Type: schema.String, Desc: "The order id, e.g. ABCD2345", Required: true},
			}),
		},
		{
			Name: contractx.ToolOrderCanceller,
			Desc: "Cancel an order. Only call this after checking the cancellation policy.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"order_id": {Type: schema.String, Desc: "The order id to cancel", Required: true},
				"reason":   {Type: schema.String, Desc: "Short cancellation reason given by the customer"},
			}),
		},
	}
}

// Known reports whether name is one of the order tools.
func Known(name string) bool {
	return name == contractx.ToolOrderTracker || name == contractx.ToolOrderCanceller
}
