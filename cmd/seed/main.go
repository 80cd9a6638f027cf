// seed is a one-shot tool that loads a demo business into an empty
// database: two locations, a small catalog, taps with kegs, one POS
// mapping per mode and a user for every role. Safe to re-run; every
// insert upserts on its natural key.
//
// Usage: go run ./cmd/seed
package main

import (
	"context"
	"log"
	"os"

	"barstock/internal/auth"
	"barstock/internal/db"

	"github.com/joho/godotenv"
)

const demoPassword = "barstock-demo"

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer pool.Close()

	hash, err := auth.HashPassword(demoPassword)
	if err != nil {
		log.Fatalf("Failed to hash demo password: %v", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	log.Println("Restoring business and locations...")
	_, err = tx.Exec(ctx, `
		INSERT INTO businesses (name)
		SELECT 'Harbor House Hospitality'
		WHERE NOT EXISTS (SELECT 1 FROM businesses WHERE name = 'Harbor House Hospitality');

		INSERT INTO locations (business_id, name, timezone)
		SELECT b.id, l.name, l.tz
		FROM businesses b
		CROSS JOIN (VALUES
		    ('Main Bar', 'America/New_York'),
		    ('Rooftop',  'America/New_York')
		) AS l(name, tz)
		WHERE b.name = 'Harbor House Hospitality'
		ON CONFLICT (business_id, name) DO UPDATE
		  SET timezone = EXCLUDED.timezone;
	`)
	if err != nil {
		log.Fatalf("Failed to restore business: %v", err)
	}

	log.Println("Restoring users...")
	_, err = tx.Exec(ctx, `
		INSERT INTO users (business_id, email, display_name, password_hash)
		SELECT b.id, u.email, u.name, $1
		FROM businesses b
		CROSS JOIN (VALUES
		    ('platform@barstock.example',    'Platform Operator'),
		    ('owner@harborhouse.example',    'Dana Whitfield'),
		    ('manager@harborhouse.example',  'Marco Reyes'),
		    ('curator@harborhouse.example',  'June Park'),
		    ('books@harborhouse.example',    'Priya Natarajan'),
		    ('bartender@harborhouse.example','Sam Okafor')
		) AS u(email, name)
		WHERE b.name = 'Harbor House Hospitality'
		ON CONFLICT (lower(email)) DO UPDATE
		  SET display_name = EXCLUDED.display_name;

		INSERT INTO user_locations (user_id, location_id, role)
		SELECT u.id, l.id, r.role
		FROM (VALUES
		    ('platform@barstock.example',    'platform_admin'),
		    ('owner@harborhouse.example',    'business_admin'),
		    ('manager@harborhouse.example',  'manager'),
		    ('curator@harborhouse.example',  'curator'),
		    ('books@harborhouse.example',    'accounting'),
		    ('bartender@harborhouse.example','staff')
		) AS r(email, role)
		JOIN users u ON lower(u.email) = r.email
		JOIN locations l ON l.business_id = u.business_id
		ON CONFLICT (user_id, location_id) DO UPDATE
		  SET role = EXCLUDED.role;
	`, hash)
	if err != nil {
		log.Fatalf("Failed to restore users: %v", err)
	}

	log.Println("Restoring categories and vendors...")
	_, err = tx.Exec(ctx, `
		INSERT INTO categories (business_id, name, counting_method, default_density)
		SELECT b.id, c.name, c.method, c.density::numeric
		FROM businesses b
		CROSS JOIN (VALUES
		    ('Spirits',        'weighable',  '0.94'),
		    ('Wine',           'weighable',  '0.99'),
		    ('Draft Beer',     'keg',        NULL),
		    ('Packaged Beer',  'unit_count', NULL),
		    ('Mixers & Juice', 'unit_count', NULL)
		) AS c(name, method, density)
		WHERE b.name = 'Harbor House Hospitality'
		ON CONFLICT (business_id, name) DO UPDATE
		  SET counting_method = EXCLUDED.counting_method,
		      default_density = EXCLUDED.default_density;

		INSERT INTO vendors (business_id, name, contact_email, phone)
		SELECT b.id, v.name, v.email, v.phone
		FROM businesses b
		CROSS JOIN (VALUES
		    ('Coastal Beverage Co.', 'orders@coastalbev.example', '555-0134'),
		    ('Five Barrel Distributing', 'sales@fivebarrel.example', '555-0188')
		) AS v(name, email, phone)
		WHERE b.name = 'Harbor House Hospitality'
		ON CONFLICT (business_id, name) DO UPDATE
		  SET contact_email = EXCLUDED.contact_email,
		      phone = EXCLUDED.phone;
	`)
	if err != nil {
		log.Fatalf("Failed to restore categories: %v", err)
	}

	log.Println("Restoring inventory items...")
	_, err = tx.Exec(ctx, `
		INSERT INTO inventory_items
			(location_id, name, barcode, category_id, base_uom, container_size_ml, pack_size, vendor_id, show_in_guide)
		SELECT l.id, i.name, i.barcode, c.id, i.uom, i.size_ml::numeric, i.pack::int, v.id, i.guide::boolean
		FROM locations l
		JOIN businesses b ON b.id = l.business_id
		CROSS JOIN (VALUES
		    ('Wheatley Vodka 1L',      '081234000011', 'Spirits',        'ml',   '1000', NULL, 'Coastal Beverage Co.',     'true'),
		    ('Probitas White Rum 1L',  '081234000028', 'Spirits',        'ml',   '1000', NULL, 'Coastal Beverage Co.',     'true'),
		    ('Altos Plata 750ml',      '081234000035', 'Spirits',        'ml',   '750',  NULL, 'Coastal Beverage Co.',     'true'),
		    ('House Cabernet 750ml',   '081234000042', 'Wine',           'ml',   '750',  NULL, 'Coastal Beverage Co.',     'true'),
		    ('Harbor IPA (1/2 bbl)',   NULL,           'Draft Beer',     'ml',   NULL,   NULL, 'Five Barrel Distributing', 'true'),
		    ('Pilsner Keg (1/4 bbl)',  NULL,           'Draft Beer',     'ml',   NULL,   NULL, 'Five Barrel Distributing', 'true'),
		    ('Local Lager 12oz',       '081234000059', 'Packaged Beer',  'unit', NULL,   '24', 'Five Barrel Distributing', 'true'),
		    ('Lime Juice 1L',          NULL,           'Mixers & Juice', 'unit', '1000', '12', 'Coastal Beverage Co.',     'false')
		) AS i(name, barcode, category, uom, size_ml, pack, vendor, guide)
		JOIN categories c ON c.business_id = b.id AND c.name = i.category
		LEFT JOIN vendors v ON v.business_id = b.id AND v.name = i.vendor
		WHERE b.name = 'Harbor House Hospitality' AND l.name = 'Main Bar'
		  AND NOT EXISTS (
		      SELECT 1 FROM inventory_items x WHERE x.location_id = l.id AND x.name = i.name
		  );

		INSERT INTO bottle_templates (item_id, container_size_ml, empty_weight_g, full_weight_g, density)
		SELECT i.id, t.size::numeric, t.empty::numeric, t.full::numeric, t.density::numeric
		FROM inventory_items i
		CROSS JOIN (VALUES
		    ('Wheatley Vodka 1L',     '1000', '480', '1420', '0.94'),
		    ('Probitas White Rum 1L', '1000', '510', '1450', '0.94'),
		    ('Altos Plata 750ml',     '750',  '460', '1165', '0.94'),
		    ('House Cabernet 750ml',  '750',  '495', '1238', '0.99')
		) AS t(name, size, empty, full, density)
		WHERE i.name = t.name
		ON CONFLICT (item_id) DO UPDATE
		  SET container_size_ml = EXCLUDED.container_size_ml,
		      empty_weight_g = EXCLUDED.empty_weight_g,
		      full_weight_g = EXCLUDED.full_weight_g,
		      density = EXCLUDED.density;

		INSERT INTO price_history (item_id, unit_cost, currency, effective_from)
		SELECT i.id, p.cost::numeric, 'USD', now()
		FROM inventory_items i
		CROSS JOIN (VALUES
		    ('Wheatley Vodka 1L',     '18.50'),
		    ('Probitas White Rum 1L', '24.00'),
		    ('Altos Plata 750ml',     '21.75'),
		    ('House Cabernet 750ml',  '11.00'),
		    ('Harbor IPA (1/2 bbl)',  '165.00'),
		    ('Local Lager 12oz',      '1.10')
		) AS p(name, cost)
		WHERE i.name = p.name
		  AND NOT EXISTS (SELECT 1 FROM price_history ph WHERE ph.item_id = i.id);
	`)
	if err != nil {
		log.Fatalf("Failed to restore items: %v", err)
	}

	log.Println("Restoring taps and kegs...")
	_, err = tx.Exec(ctx, `
		INSERT INTO tap_lines (location_id, name, position)
		SELECT l.id, t.name, t.pos::int
		FROM locations l
		JOIN businesses b ON b.id = l.business_id
		CROSS JOIN (VALUES
		    ('Tap 1', '1'),
		    ('Tap 2', '2'),
		    ('Tap 3', '3'),
		    ('Tap 4', '4')
		) AS t(name, pos)
		WHERE b.name = 'Harbor House Hospitality' AND l.name = 'Main Bar'
		ON CONFLICT (location_id, name) DO UPDATE
		  SET position = EXCLUDED.position;

		INSERT INTO keg_instances (location_id, item_id, starting_volume_ml, status, received_at)
		SELECT i.location_id, i.id, k.volume::numeric, k.status, now()
		FROM inventory_items i
		CROSS JOIN (VALUES
		    ('Harbor IPA (1/2 bbl)',  '58670', 'tapped'),
		    ('Harbor IPA (1/2 bbl)',  '58670', 'full'),
		    ('Pilsner Keg (1/4 bbl)', '29340', 'full')
		) AS k(name, volume, status)
		WHERE i.name = k.name
		  AND NOT EXISTS (
		      SELECT 1 FROM keg_instances x WHERE x.item_id = i.id AND x.status = k.status
		  );

		INSERT INTO tap_assignments (tap_id, keg_id, started_ts)
		SELECT t.id, k.id, now()
		FROM tap_lines t
		JOIN keg_instances k ON k.location_id = t.location_id AND k.status = 'tapped'
		WHERE t.name = 'Tap 1'
		  AND NOT EXISTS (SELECT 1 FROM tap_assignments a WHERE a.tap_id = t.id AND a.ended_ts IS NULL);
	`)
	if err != nil {
		log.Fatalf("Failed to restore taps: %v", err)
	}

	log.Println("Restoring POS mappings...")
	_, err = tx.Exec(ctx, `
		INSERT INTO recipes (business_id, name)
		SELECT b.id, 'House Daiquiri'
		FROM businesses b
		WHERE b.name = 'Harbor House Hospitality'
		ON CONFLICT (business_id, name) DO NOTHING;

		INSERT INTO recipe_ingredients (recipe_id, item_id, quantity, uom)
		SELECT r.id, i.id, g.qty::numeric, 'ml'
		FROM recipes r
		JOIN businesses b ON b.id = r.business_id
		CROSS JOIN (VALUES
		    ('Probitas White Rum 1L', '60'),
		    ('Lime Juice 1L',         '30')
		) AS g(item, qty)
		JOIN locations l ON l.business_id = b.id AND l.name = 'Main Bar'
		JOIN inventory_items i ON i.location_id = l.id AND i.name = g.item
		WHERE r.name = 'House Daiquiri'
		  AND NOT EXISTS (SELECT 1 FROM recipe_ingredients x WHERE x.recipe_id = r.id);

		INSERT INTO pos_item_mappings
			(location_id, source_system, pos_item_id, pos_item_name, mode, item_id, tap_id, recipe_id, pour_qty, pour_uom, effective_from)
		SELECT l.id, 'toast', m.pos_id, m.pos_name, m.mode,
		       CASE WHEN m.item <> '' THEN (SELECT id FROM inventory_items WHERE location_id = l.id AND name = m.item) END,
		       CASE WHEN m.tap <> '' THEN (SELECT id FROM tap_lines WHERE location_id = l.id AND name = m.tap) END,
		       CASE WHEN m.recipe <> '' THEN (SELECT id FROM recipes WHERE business_id = l.business_id AND name = m.recipe) END,
		       NULLIF(m.qty, '')::numeric, NULLIF(m.uom, ''), now() - interval '30 days'
		FROM locations l
		JOIN businesses b ON b.id = l.business_id
		CROSS JOIN (VALUES
		    ('1001', 'Vodka Well Pour', 'direct',       'Wheatley Vodka 1L', '', '',               '44',  'ml'),
		    ('1002', 'House Daiquiri',  'recipe',       '',                  '', 'House Daiquiri', '',    ''),
		    ('1003', 'Harbor IPA Pint', 'draft_by_tap', '',                  'Tap 1', '',          '473', 'ml'),
		    ('1004', 'Local Lager Btl', 'direct',       'Local Lager 12oz',  '', '',               '1',   'unit')
		) AS m(pos_id, pos_name, mode, item, tap, recipe, qty, uom)
		WHERE b.name = 'Harbor House Hospitality' AND l.name = 'Main Bar'
		  AND NOT EXISTS (
		      SELECT 1 FROM pos_item_mappings x
		      WHERE x.location_id = l.id AND x.source_system = 'toast' AND x.pos_item_id = m.pos_id
		  );

		INSERT INTO pos_size_modifiers (location_id, source_system, modifier_id, factor)
		SELECT l.id, 'toast', s.id, s.factor::numeric
		FROM locations l
		JOIN businesses b ON b.id = l.business_id
		CROSS JOIN (VALUES
		    ('double', '2.0'),
		    ('half',   '0.5')
		) AS s(id, factor)
		WHERE b.name = 'Harbor House Hospitality' AND l.name = 'Main Bar'
		ON CONFLICT (location_id, source_system, modifier_id) DO UPDATE
		  SET factor = EXCLUDED.factor;
	`)
	if err != nil {
		log.Fatalf("Failed to restore POS mappings: %v", err)
	}

	log.Println("Restoring par levels...")
	_, err = tx.Exec(ctx, `
		INSERT INTO par_levels
			(location_id, item_id, vendor_id, par_level, min_level, reorder_qty, par_uom, lead_time_days, safety_stock_days)
		SELECT i.location_id, i.id, i.vendor_id, p.par::numeric, p.min::numeric, p.reorder::numeric, p.uom, 2, 1
		FROM inventory_items i
		CROSS JOIN (VALUES
		    ('Wheatley Vodka 1L',     '6',  '2', '6',  'unit'),
		    ('Probitas White Rum 1L', '4',  '1', '4',  'unit'),
		    ('House Cabernet 750ml',  '12', '4', '12', 'unit'),
		    ('Local Lager 12oz',      '3',  '1', '2',  'package')
		) AS p(name, par, min, reorder, uom)
		WHERE i.name = p.name
		ON CONFLICT (location_id, item_id) DO UPDATE
		  SET par_level = EXCLUDED.par_level,
		      min_level = EXCLUDED.min_level,
		      reorder_qty = EXCLUDED.reorder_qty,
		      par_uom = EXCLUDED.par_uom;
	`)
	if err != nil {
		log.Fatalf("Failed to restore par levels: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	log.Printf("Seed data loaded. Demo logins use password %q.", demoPassword)
	os.Exit(0)
}
