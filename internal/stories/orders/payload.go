package orders

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrMissingField   = errors.New("missing required field")
)

// Поля приходят под разными именами от разных версий бэкенда, сводим к одному.
var fieldAliases = map[string]string{
	"user_id":         "user_id",
	"userId":          "user_id",
	"discord_id":      "user_id",
	"discordId":       "user_id",
	"order_id":        "order_id",
	"orderId":         "order_id",
	"email":           "email",
	"customer_email":  "email",
	"customerEmail":   "email",
	"product":         "product",
	"productSummary":  "product",
	"product_summary": "product",
	"product_name":    "product",
	"roblox_username": "roblox_username",
	"robloxUsername":  "roblox_username",
	"order_items":     "order_items",
	"orderItems":      "order_items",
	"items":           "order_items",
	"total_paid":      "total_paid",
	"totalPaid":       "total_paid",
	"total":           "total_paid",
	"discount_amount": "discount_amount",
	"discountAmount":  "discount_amount",
	"original_price":  "original_price",
	"originalPrice":   "original_price",
	"order_date":      "order_date",
	"orderDate":       "order_date",
	"created_at":      "order_date",
	"createdAt":       "order_date",
	"promo_code":      "promo_code",
	"promoCode":       "promo_code",
	"affiliate_code":  "affiliate_code",
	"affiliateCode":   "affiliate_code",
	"status":          "status",
	"thread_id":       "thread_id",
	"threadId":        "thread_id",
}

// DecodePayload normalizes every accepted webhook/backend shape into an Order.
// user_id and order_id are required.
func DecodePayload(data []byte) (*Order, error) {
	o, err := decodeOrder(jx.DecodeBytes(data))
	if err != nil {
		return nil, err
	}
	if o.UserID == "" {
		return nil, errors.Wrap(ErrMissingField, "user_id")
	}
	if o.ID == "" {
		return nil, errors.Wrap(ErrMissingField, "order_id")
	}
	return o, nil
}

// DecodeRecord is DecodePayload without the required-field checks, for backend reads.
func DecodeRecord(data []byte) (*Order, error) {
	return decodeOrder(jx.DecodeBytes(data))
}

func decodeOrder(d *jx.Decoder) (*Order, error) {
	if d.Next() != jx.Object {
		return nil, errors.Wrap(ErrInvalidPayload, "expected JSON object")
	}

	var o Order
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		canonical, ok := fieldAliases[string(key)]
		if !ok {
			return d.Skip()
		}

		var err error
		switch canonical {
		case "user_id":
			o.UserID, err = decodeID(d)
		case "order_id":
			o.ID, err = decodeID(d)
		case "thread_id":
			o.ThreadID, err = decodeID(d)
		case "email":
			o.Email, err = decodeString(d)
		case "product":
			o.Product, err = decodeString(d)
		case "roblox_username":
			o.RobloxUsername, err = decodeString(d)
		case "status":
			var s string
			s, err = decodeString(d)
			o.Status = Status(strings.ToLower(s))
		case "total_paid":
			o.TotalPaid, err = decodeMoney(d)
		case "discount_amount":
			o.DiscountAmount, err = decodeMoney(d)
		case "original_price":
			o.OriginalPrice, err = decodeMoney(d)
		case "order_date":
			o.OrderDate, err = decodeTime(d)
		case "order_items":
			o.Items, err = decodeItems(d)
		case "promo_code":
			o.Promo, err = decodePromo(d)
		case "affiliate_code":
			o.Affiliate, err = decodeAffiliate(d)
		}
		if err != nil {
			return errors.Wrapf(err, "field %s", key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(ErrInvalidPayload, err.Error())
	}
	return &o, nil
}

func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		return strings.TrimSpace(s), err
	case jx.Number:
		v, err := d.Int64()
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(v, 10), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.Errorf("unexpected %s for id", d.Next())
	}
}

func decodeString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		return strings.TrimSpace(s), err
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.Errorf("unexpected %s for string", d.Next())
	}
}

func decodeMoney(d *jx.Decoder) (Money, error) {
	switch d.Next() {
	case jx.Number:
		v, err := d.Float64()
		if err != nil {
			return 0, err
		}
		return MoneyFromFloat(v), nil
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		return ParseMoney(s)
	case jx.Null:
		return 0, d.Null()
	default:
		return 0, errors.Errorf("unexpected %s for amount", d.Next())
	}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return time.Time{}, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, errors.Errorf("unsupported date %q", s)
	case jx.Number:
		v, err := d.Int64()
		if err != nil {
			return time.Time{}, err
		}
		// миллисекунды от JS-клиентов
		if v > 1e12 {
			return time.UnixMilli(v).UTC(), nil
		}
		return time.Unix(v, 0).UTC(), nil
	case jx.Null:
		return time.Time{}, d.Null()
	default:
		return time.Time{}, errors.Errorf("unexpected %s for date", d.Next())
	}
}

func decodeItems(d *jx.Decoder) ([]Item, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var items []Item
	err := d.Arr(func(d *jx.Decoder) error {
		if d.Next() == jx.String {
			name, err := d.Str()
			if err != nil {
				return err
			}
			items = append(items, Item{Name: name, Quantity: 1})
			return nil
		}

		it := Item{Quantity: 1}
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "name", "product_name", "productName", "title":
				it.Name, err = decodeString(d)
			case "quantity", "qty":
				var v int64
				if d.Next() == jx.Number {
					v, err = d.Int64()
					if v > 0 {
						it.Quantity = int(v)
					}
				} else {
					err = d.Skip()
				}
			case "price", "unit_price", "unitPrice":
				it.Price, err = decodeMoney(d)
			default:
				err = d.Skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		if it.Name != "" {
			items = append(items, it)
		}
		return nil
	})
	return items, err
}

func decodePromo(d *jx.Decoder) (*PromoCode, error) {
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil || strings.TrimSpace(s) == "" {
			return nil, err
		}
		return &PromoCode{Code: strings.TrimSpace(s)}, nil
	}

	var p PromoCode
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			p.Code, err = decodeString(d)
		case "discount":
			p.Discount, err = decodeScalar(d)
		case "type":
			p.Type, err = decodeString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if p.Code == "" {
		return nil, nil
	}
	return &p, nil
}

func decodeAffiliate(d *jx.Decoder) (*AffiliateCode, error) {
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil || strings.TrimSpace(s) == "" {
			return nil, err
		}
		return &AffiliateCode{Code: strings.TrimSpace(s)}, nil
	}

	var a AffiliateCode
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			a.Code, err = decodeString(d)
		case "username":
			a.Username, err = decodeString(d)
		case "discount":
			a.Discount, err = decodeScalar(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if a.Code == "" {
		return nil, nil
	}
	return &a, nil
}

// decodeScalar reads a string or number as its textual form.
func decodeScalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Number:
		v, err := d.Float64()
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return decodeString(d)
	}
}

// EncodeJSON writes o in the canonical snake_case shape DecodePayload reads back.
func EncodeJSON(o Order) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(o.ID)
	e.FieldStart("user_id")
	e.Str(o.UserID)
	if o.Email != "" {
		e.FieldStart("email")
		e.Str(o.Email)
	}
	if o.Product != "" {
		e.FieldStart("product")
		e.Str(o.Product)
	}
	if o.RobloxUsername != "" {
		e.FieldStart("roblox_username")
		e.Str(o.RobloxUsername)
	}
	if len(o.Items) > 0 {
		e.FieldStart("order_items")
		e.ArrStart()
		for _, it := range o.Items {
			e.ObjStart()
			e.FieldStart("name")
			e.Str(it.Name)
			e.FieldStart("quantity")
			e.Int(it.Quantity)
			e.FieldStart("price")
			e.Float64(it.Price.Float64())
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	e.FieldStart("total_paid")
	e.Float64(o.TotalPaid.Float64())
	if o.DiscountAmount != 0 {
		e.FieldStart("discount_amount")
		e.Float64(o.DiscountAmount.Float64())
	}
	if o.OriginalPrice != 0 {
		e.FieldStart("original_price")
		e.Float64(o.OriginalPrice.Float64())
	}
	if !o.OrderDate.IsZero() {
		e.FieldStart("order_date")
		e.Str(o.OrderDate.UTC().Format(time.RFC3339))
	}
	if o.Promo != nil {
		e.FieldStart("promo_code")
		e.ObjStart()
		e.FieldStart("code")
		e.Str(o.Promo.Code)
		e.FieldStart("discount")
		e.Str(o.Promo.Discount)
		e.FieldStart("type")
		e.Str(o.Promo.Type)
		e.ObjEnd()
	}
	if o.Affiliate != nil {
		e.FieldStart("affiliate_code")
		e.ObjStart()
		e.FieldStart("code")
		e.Str(o.Affiliate.Code)
		e.FieldStart("username")
		e.Str(o.Affiliate.Username)
		e.FieldStart("discount")
		e.Str(o.Affiliate.Discount)
		e.ObjEnd()
	}
	if o.Status != "" {
		e.FieldStart("status")
		e.Str(string(o.Status))
	}
	e.ObjEnd()
	return e.Bytes()
}
