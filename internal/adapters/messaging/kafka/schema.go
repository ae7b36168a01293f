package kafka

// SaleSchema is the JSON schema of the payments value.
const SaleSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Sale",
  "type": "object",
  "properties": {
    "order_id": {"type": "integer"},
    "product_id": {"type": "integer"},
    "customer_id": {"type": "integer"},
    "ts": {"type": "string", "format": "date-time"},
    "cc_number": {"type": "string"},
    "expiration": {"type": "string"},
    "amount": {"type": "number"},
    "confirmation_code": {"type": "string"}
  },
  "required": ["order_id", "product_id", "customer_id", "ts", "cc_number", "expiration", "amount", "confirmation_code"]
}`
