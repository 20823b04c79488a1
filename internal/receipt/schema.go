package receipt

// Schema is the JSON schema the extraction model must follow. It is part of
// the extraction configuration fingerprint, so any edit here invalidates
// cached results.
const Schema = `{
  "type": "object",
  "properties": {
    "merchant": {
      "type": "object",
      "properties": {
        "name": {"type": "string"},
        "address": {
          "type": "object",
          "properties": {
            "street": {"type": "string"},
            "city": {"type": "string"},
            "state": {"type": "string"},
            "postalCode": {"type": "string"},
            "country": {"type": "string"}
          }
        },
        "phone": {"type": "string"},
        "website": {"type": "string"}
      },
      "required": ["name"]
    },
    "transaction": {
      "type": "object",
      "properties": {
        "date": {"type": "string", "description": "ISO 8601 date, YYYY-MM-DD"},
        "time": {"type": "string", "description": "24h time, HH:MM"},
        "currency": {"type": "string", "description": "ISO 4217 code"},
        "paymentMethod": {"type": "string"},
        "receiptNumber": {"type": "string"}
      }
    },
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "quantity": {"type": "number"},
          "unitPrice": {"type": "number"},
          "totalPrice": {"type": "number"},
          "category": {"type": "string"},
          "discounts": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "description": {"type": "string"},
                "amount": {"type": "number"}
              }
            }
          }
        },
        "required": ["name", "totalPrice"]
      }
    },
    "totals": {
      "type": "object",
      "properties": {
        "subtotal": {"type": "number"},
        "tax": {"type": "number"},
        "fees": {"type": "number"},
        "tip": {"type": "number"},
        "total": {"type": "number"}
      },
      "required": ["total"]
    },
    "returnInfo": {
      "type": "object",
      "properties": {
        "policy": {"type": "string"},
        "returnByDate": {"type": "string"},
        "hasReturnBarcode": {"type": "boolean"},
        "returnBarcode": {"type": "string"}
      }
    }
  },
  "required": ["merchant", "items", "totals"]
}`
